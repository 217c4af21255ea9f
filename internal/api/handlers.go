package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/parimutuel/internal/address"
	"github.com/punchamoorthee/parimutuel/internal/domain"
)

func (h *Handler) CreateMarketHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	body, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	h.execute(w, r, domain.CreateMarketInstruction(domain.CreateMarketArgs{
		MarketID: req.MarketID,
		Question: req.Question,
		EndTime:  req.EndTime,
	}), body)
}

func (h *Handler) StakeHandler(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	body, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	h.execute(w, r, domain.StakeInstruction(domain.StakeArgs{
		MarketID: mux.Vars(r)["id"],
		Outcome:  req.Outcome,
		Amount:   req.Amount,
	}), body)
}

func (h *Handler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	body, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	h.execute(w, r, domain.ResolveInstruction(domain.ResolveArgs{
		MarketID:       mux.Vars(r)["id"],
		WinningOutcome: req.WinningOutcome,
	}), body)
}

// ClaimHandler takes no body; the position comes from the path.
func (h *Handler) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	pos, ok := pathAddress(w, r)
	if !ok {
		return
	}
	h.execute(w, r, domain.ClaimInstruction(domain.ClaimArgs{Position: pos}), nil)
}

// InstructionHandler accepts the structured instruction envelope directly.
func (h *Handler) InstructionHandler(w http.ResponseWriter, r *http.Request) {
	var ins domain.Instruction
	body, ok := h.decode(w, r, &ins)
	if !ok {
		return
	}
	h.execute(w, r, ins, body)
}

func (h *Handler) ArchiveMarketHandler(w http.ResponseWriter, r *http.Request) {
	key, err := h.engine.ArchiveMarket(r.Context(), mux.Vars(r)["id"], callerFrom(r.Context()))
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, ArchiveResponse{Key: key})
}

func (h *Handler) ListMarketsHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "limit and offset must be non-negative integers")
		return
	}
	markets, err := h.engine.ListMarkets(r.Context(), domain.MarketFilter{
		Status:   domain.MarketStatus(r.URL.Query().Get("status")),
		ListOpts: opts,
	})
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(markets))
}

func (h *Handler) GetMarketHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetMarket(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.engine.GetEscrow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, escrow)
}

func (h *Handler) AuditEscrowHandler(w http.ResponseWriter, r *http.Request) {
	audit, err := h.engine.AuditEscrow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, audit)
}

func (h *Handler) ListMarketPositionsHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "limit and offset must be non-negative integers")
		return
	}
	positions, err := h.engine.ListPositionsByMarket(r.Context(), mux.Vars(r)["id"], opts)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(positions))
}

func (h *Handler) GetPositionHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	pos, err := h.engine.GetPosition(r.Context(), addr)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pos)
}

func (h *Handler) ListOwnerPositionsHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "limit and offset must be non-negative integers")
		return
	}
	positions, err := h.engine.ListPositionsByOwner(r.Context(), mux.Vars(r)["owner"], opts)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(positions))
}

func (h *Handler) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOpts(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "limit and offset must be non-negative integers")
		return
	}
	entries, err := h.engine.ListEntries(r.Context(), mux.Vars(r)["account"], opts)
	if err != nil {
		h.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(entries))
}

// MarketAddressesHandler derives a market's addresses without touching the
// store, so clients can verify what the server reports.
func (h *Handler) MarketAddressesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m := address.Market(id)
	respondWithJSON(w, http.StatusOK, AddressesResponse{
		MarketID:      id,
		MarketAddress: m.Hex(),
		EscrowAddress: address.Escrow(m).Hex(),
	})
}

func pathAddress(w http.ResponseWriter, r *http.Request) (address.Address, bool) {
	addr, err := address.Parse(mux.Vars(r)["address"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_address", "address must be 32 bytes of 0x-prefixed hex")
		return address.Address{}, false
	}
	return addr, true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
