package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// Archiver uploads the session's confirmed exit records to object storage
// as one JSONL file per trading day. Archives are write-once: the primary
// journal is never deleted here.
type Archiver struct {
	writer *Writer
}

// NewArchiver creates an Archiver that uploads through the given writer.
func NewArchiver(writer *Writer) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveExits serializes the records to JSONL and uploads them under
// archive/exits/YYYY-MM-DD.jsonl. Returns the object key and the record
// count; an empty batch uploads nothing.
func (a *Archiver) ArchiveExits(ctx context.Context, day time.Time, records []domain.ExitRecord) (string, int, error) {
	if len(records) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive exits marshal: %w", err)
	}

	path := archivePath("exits", day)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive exits upload: %w", err)
	}
	return path, len(records), nil
}

// archivePath builds the S3 key for an archive file, partitioned by day.
//
//	archive/exits/2026-08-24.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
