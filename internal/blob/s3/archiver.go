package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// SalesArchiver exports a month of persisted sales as JSONL to
// archive/sales/YYYY-MM.jsonl. Rows stay in the primary store.
type SalesArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	sales  domain.SaleStore
	audit  domain.AuditStore
}

func NewSalesArchiver(writer domain.BlobWriter, reader domain.BlobReader, sales domain.SaleStore, audit domain.AuditStore) *SalesArchiver {
	return &SalesArchiver{writer: writer, reader: reader, sales: sales, audit: audit}
}

// ArchivePath returns the key for the month containing t.
func ArchivePath(t time.Time) string {
	return fmt.Sprintf("archive/sales/%s.jsonl", t.UTC().Format("2006-01"))
}

// ArchiveMonth writes the month containing t unless it was already archived,
// returning the number of exported sales.
func (a *SalesArchiver) ArchiveMonth(ctx context.Context, t time.Time) (int64, error) {
	path := ArchivePath(t)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales: %w", err)
	}
	if exists {
		return 0, nil
	}

	start := time.Date(t.UTC().Year(), t.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	sales, err := a.sales.ListRecent(ctx, domain.ListOpts{Since: &start, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
	}
	if len(sales) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(sales)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales marshal: %w", err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive sales upload: %w", err)
	}

	count := int64(len(sales))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.sales", map[string]any{
			"path":  path,
			"count": count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive sales audit: %w", err)
		}
	}
	return count, nil
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
