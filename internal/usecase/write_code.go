package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	applogger "ForecastMCP/pkg/logger"
)

// WriteCodeUseCase writes caller supplied text to disk. With an empty root
// the filename is used as given; otherwise it must resolve inside root.
type WriteCodeUseCase struct {
	root     string
	maxBytes int
	metrics  domrepo.Metrics
	logger   *applogger.Logger
}

func NewWriteCodeUseCase(root string, maxBytes int, metrics domrepo.Metrics, logger *applogger.Logger) (*WriteCodeUseCase, error) {
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("write root: %w", err)
		}
		root = abs
	}
	return &WriteCodeUseCase{root: root, maxBytes: maxBytes, metrics: metrics, logger: logger}, nil
}

func (uc *WriteCodeUseCase) Write(ctx context.Context, filename, code string) error {
	if uc.maxBytes > 0 && len(code) > uc.maxBytes {
		uc.metrics.RecordToolCall("write_code", "invalid")
		return fmt.Errorf("%w: %d bytes, limit %d", models.ErrCodeTooLarge, len(code), uc.maxBytes)
	}
	path, err := uc.resolve(filename)
	if err != nil {
		uc.metrics.RecordToolCall("write_code", "invalid")
		return err
	}
	if uc.root != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			uc.metrics.RecordToolCall("write_code", "error")
			return fmt.Errorf("create parent of %s: %w", filename, err)
		}
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		uc.metrics.RecordToolCall("write_code", "error")
		return fmt.Errorf("write %s: %w", filename, err)
	}

	uc.logger.Info("code written", applogger.String("path", path), applogger.Int("bytes", len(code)))
	uc.metrics.RecordToolCall("write_code", "ok")
	return nil
}

func (uc *WriteCodeUseCase) resolve(filename string) (string, error) {
	if uc.root == "" {
		return filename, nil
	}
	var path string
	if filepath.IsAbs(filename) {
		path = filepath.Clean(filename)
	} else {
		path = filepath.Join(uc.root, filename)
	}
	rel, err := filepath.Rel(uc.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", models.ErrPathOutsideRoot, filename)
	}
	return path, nil
}
