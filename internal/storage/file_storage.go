package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReceiptStore persists uploaded receipt files under a base directory.
// Stored names are generated, never caller-controlled, so uploads cannot
// traverse outside the base.
type ReceiptStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewReceiptStore creates the store and its base directory
func NewReceiptStore(baseDir string, logger *zap.Logger) (*ReceiptStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	return &ReceiptStore{baseDir: baseDir, logger: logger}, nil
}

// Save writes receipt content under a uuid name, keeping only the
// original extension, and returns the stored path.
func (s *ReceiptStore) Save(originalName string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	switch ext {
	case ".pdf", ".png", ".jpg", ".jpeg":
	default:
		return "", fmt.Errorf("unsupported receipt file type: %q", ext)
	}

	name := uuid.NewString() + ext
	fullPath := filepath.Join(s.baseDir, name)

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write receipt file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write receipt file: %w", err)
	}

	s.logger.Info("Stored receipt file",
		zap.String("original_name", originalName),
		zap.String("path", fullPath),
		zap.Int("bytes", len(content)))

	return fullPath, nil
}

// Open returns the content of a stored receipt after verifying the path
// is inside the base directory
func (s *ReceiptStore) Open(path string) ([]byte, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(absPath, absBase+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path %q is outside the receipt directory", path)
	}
	return os.ReadFile(absPath)
}
