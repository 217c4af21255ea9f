package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

const contentType = "application/x-ndjson"

// Uploader is the slice of manager.Uploader the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archiver implements domain.Archiver. One object is written per market:
//
//	{prefix}/markets/{market_id}/{resolved_at}.jsonl
//
// Each line is a record tagged with its kind: the market, its escrow, every
// position, every escrow ledger entry and the audit, in that order.
type Archiver struct {
	up     Uploader
	bucket string
	prefix string
}

func NewArchiver(up Uploader, bucket, prefix string) *Archiver {
	return &Archiver{up: up, bucket: bucket, prefix: prefix}
}

type record struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func (a *Archiver) ArchiveMarket(ctx context.Context, b domain.MarketArchive) (string, error) {
	body, err := marshalJSONL(b)
	if err != nil {
		return "", fmt.Errorf("s3archive: marshal market %s: %w", b.Market.MarketID, err)
	}

	key := a.key(b.Market)
	_, err = a.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"market-id":  b.Market.MarketID,
			"consistent": fmt.Sprint(b.Audit.Consistent),
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3archive: upload %s: %w", key, err)
	}
	return key, nil
}

func (a *Archiver) key(m domain.Market) string {
	at := m.CreatedAt
	if m.ResolvedAt != nil {
		at = *m.ResolvedAt
	}
	return path.Join(a.prefix, "markets", m.MarketID, at.UTC().Format("20060102T150405Z")+".jsonl")
}

func marshalJSONL(b domain.MarketArchive) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	records := make([]record, 0, 3+len(b.Positions)+len(b.Entries))
	records = append(records, record{"market", b.Market}, record{"escrow", b.Escrow})
	for _, p := range b.Positions {
		records = append(records, record{"position", p})
	}
	for _, e := range b.Entries {
		records = append(records, record{"entry", e})
	}
	records = append(records, record{"audit", b.Audit})

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver = (*Archiver)(nil)
	_ Uploader        = (*manager.Uploader)(nil)
)
