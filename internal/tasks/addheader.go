package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/driftline-labs/driftline-go/internal/platform/objectstore"
)

// TransformHeader is the fixed CSV header the batch-inference output omits.
// The headered file is the wire contract consumed by the monitor job.
const TransformHeader = "duration_minutes,passenger_count,trip_distance,total_amount"

const maxTransformObjectBytes = 256 << 20

// HeaderWriter prepends TransformHeader to transform output objects.
type HeaderWriter struct {
	store  objectstore.Store
	bucket string
}

func NewHeaderWriter(store objectstore.Store, bucket string) (*HeaderWriter, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &HeaderWriter{store: store, bucket: bucket}, nil
}

// AddHeader rewrites the object at key with TransformHeader as its first
// line. The operation is idempotent: when the object already starts with the
// exact header line it is left untouched and false is returned.
func (h *HeaderWriter) AddHeader(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("object key is required")
	}

	body, _, err := h.store.Get(ctx, h.bucket, key)
	if err != nil {
		return false, fmt.Errorf("get transform output: %w", err)
	}
	defer body.Close()

	content, err := io.ReadAll(io.LimitReader(body, maxTransformObjectBytes))
	if err != nil {
		return false, fmt.Errorf("read transform output: %w", err)
	}

	if HasHeader(content) {
		return false, nil
	}

	headered := make([]byte, 0, len(TransformHeader)+1+len(content))
	headered = append(headered, TransformHeader...)
	headered = append(headered, '\n')
	headered = append(headered, content...)

	if err := h.store.Put(ctx, h.bucket, key, bytes.NewReader(headered), int64(len(headered)), "text/csv"); err != nil {
		return false, fmt.Errorf("put headered output: %w", err)
	}
	return true, nil
}

// HasHeader reports whether the content's first line is exactly
// TransformHeader.
func HasHeader(content []byte) bool {
	firstLine := content
	if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
		firstLine = content[:idx]
	}
	return string(bytes.TrimRight(firstLine, "\r")) == TransformHeader
}
