// Package api is the HTTP transport of the settlement engine.
package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/service"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
	maxIdempotencyKey = 255
)

type Handler struct {
	engine   *service.Engine
	validate *validator.Validate
	log      *zap.Logger
}

func NewHandler(engine *service.Engine, log *zap.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{engine: engine, validate: v, log: log}
}

// NewRouter wires every route. Reads are public; writes need a bearer token.
func NewRouter(h *Handler, auth *Authenticator) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, recoverPanics(h.log), logRequests(h.log), instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	write := func(path string, fn http.HandlerFunc) {
		v1.Handle(path, auth.Middleware(fn)).Methods(http.MethodPost)
	}

	write("/markets", h.CreateMarketHandler)
	write("/markets/{id}/stakes", h.StakeHandler)
	write("/markets/{id}/resolve", h.ResolveHandler)
	write("/markets/{id}/archive", h.ArchiveMarketHandler)
	write("/positions/{address}/claim", h.ClaimHandler)
	write("/instructions", h.InstructionHandler)

	v1.HandleFunc("/markets", h.ListMarketsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}", h.GetMarketHandler).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}/escrow", h.GetEscrowHandler).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}/audit", h.AuditEscrowHandler).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}/positions", h.ListMarketPositionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{address}", h.GetPositionHandler).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{owner}/positions", h.ListOwnerPositionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/entries", h.ListEntriesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/addresses/market/{id}", h.MarketAddressesHandler).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "route_not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads the request body once so it can be both hashed and decoded.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, nil
}

var errBodyTooLarge = domain.ErrInvalidInstruction.WithMessage("request body too large")

// decode reads a JSON body into dst and validates it. The raw body is
// returned for request hashing. It writes the error response itself and
// reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) ([]byte, bool) {
	body, err := readBody(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed_body", "Stream read error")
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed_json", "Malformed JSON body")
		return nil, false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithEngineError(w, r, validationError(err))
		return nil, false
	}
	return body, true
}

// requestHash binds an idempotency key to who sent what where.
func requestHash(caller string, r *http.Request, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(caller))
	sum.Write([]byte{'\n'})
	sum.Write([]byte(r.Method + " " + r.URL.Path))
	sum.Write([]byte{'\n'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// execute runs ins for the authenticated caller. With an Idempotency-Key the
// result is stored with the key and a replay returns it verbatim.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, ins domain.Instruction, body []byte) {
	caller := callerFrom(r.Context())

	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		receipt, err := h.engine.Execute(r.Context(), caller, ins)
		if err != nil {
			h.respondWithEngineError(w, r, err)
			return
		}
		h.respondWithReceipt(w, receipt)
		return
	}
	if len(key) > maxIdempotencyKey {
		respondWithError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key too long")
		return
	}

	// Keys are scoped per caller so two callers never collide.
	scoped := caller + "/" + key
	receipt, existing, err := h.engine.ExecuteIdempotent(r.Context(), caller, ins, scoped, requestHash(caller, r, body))
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}

	// Idempotent replay
	if existing != nil {
		idempotentReplays.WithLabelValues(string(ins.Op)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.ResponseStatus)
		_, _ = w.Write(existing.ResponseBody)
		return
	}
	h.respondWithReceipt(w, receipt)
}

func (h *Handler) respondWithReceipt(w http.ResponseWriter, receipt *domain.Receipt) {
	switch {
	case receipt.CreateMarket != nil:
		w.Header().Set("Location", "/api/v1/markets/"+receipt.CreateMarket.Market.MarketID)
	case receipt.Stake != nil:
		w.Header().Set("Location", "/api/v1/positions/"+receipt.Stake.Position.Address.Hex())
	}
	respondWithJSON(w, service.ResponseStatus(receipt.Op), receipt)
}

// listOpts reads limit and offset from the query string.
func listOpts(r *http.Request) (domain.ListOpts, bool) {
	var opts domain.ListOpts
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, false
		}
		*dst = n
	}
	return opts, true
}
