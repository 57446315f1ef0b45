package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var _ domain.SnapshotArchive = (*SnapshotStore)(nil)

const snapshotPrefix = "snapshots/"

// SnapshotStore persists committed catalogs as JSON documents at
// snapshots/YYYY/MM/DD/<generation>.json.
type SnapshotStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

func NewSnapshotStore(writer domain.BlobWriter, reader domain.BlobReader) *SnapshotStore {
	return &SnapshotStore{writer: writer, reader: reader}
}

// SnapshotPath returns the object key for c.
func SnapshotPath(c domain.Catalog) string {
	return fmt.Sprintf("%s%s/%d.json", snapshotPrefix, c.LoadedAt.UTC().Format("2006/01/02"), c.Generation)
}

// Save uploads c and returns its key.
func (s *SnapshotStore) Save(ctx context.Context, c domain.Catalog) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %d: %w", c.Generation, err)
	}
	path := SnapshotPath(c)
	if err := s.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: save snapshot: %w", err)
	}
	return path, nil
}

// Latest returns the most recently written snapshot. Generations restart
// with the process, so recency is decided by modification time and then by
// key. domain.ErrNotFound is returned when nothing was archived.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Catalog, error) {
	infos, err := s.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}

	var newest *domain.BlobInfo
	for i := range infos {
		info := &infos[i]
		if !strings.HasSuffix(info.Path, ".json") {
			continue
		}
		if newest == nil ||
			info.LastModified.After(newest.LastModified) ||
			(info.LastModified.Equal(newest.LastModified) && info.Path > newest.Path) {
			newest = info
		}
	}
	if newest == nil {
		return domain.Catalog{}, fmt.Errorf("s3blob: latest snapshot: %w", domain.ErrNotFound)
	}

	body, err := s.reader.Get(ctx, newest.Path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	defer body.Close()

	var c domain.Catalog
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return domain.Catalog{}, fmt.Errorf("s3blob: decode snapshot %s: %w", newest.Path, err)
	}
	return c, nil
}
