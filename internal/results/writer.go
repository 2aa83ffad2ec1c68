// File: internal/results/writer.go
//
// Package results persists finished run results as JSON artifacts.
package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileSink writes one JSON artifact per run into a directory.
type FileSink struct {
	dir string
	log *zap.Logger
}

func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts dir %s: %w", dir, err)
	}
	return &FileSink{dir: dir, log: logger.Named("results")}, nil
}

// Persist writes the run result to <dir>/<run_id>.json.
func (s *FileSink) Persist(ctx context.Context, result *schemas.TestRunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run result: %w", err)
	}
	path := filepath.Join(s.dir, result.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run result %s: %w", path, err)
	}
	s.log.Info("Run result persisted", zap.String("path", path))
	return nil
}
