package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/okian/tradevalue/internal/domain/pricing"
)

// FileSource reads a JSON snapshot of raw values from disk, the same shape
// the HTTP feed serves.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (f FileSource) Fetch(ctx context.Context) ([]pricing.RawValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read feed snapshot: %w", err)
	}
	var values []pricing.RawValue
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode feed snapshot %s: %w", f.Path, err)
	}
	return values, nil
}
