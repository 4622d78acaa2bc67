package receipt

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// renderer converts receipt files (PDF or image) into JPEG page images
// suitable for the vision extraction API.
type renderer struct {
	logger *zap.Logger
}

func (r *renderer) render(path string) ([][]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("receipt file not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return r.renderPDF(path)
	case ".jpg", ".jpeg", ".png":
		return r.renderImage(path, ext)
	default:
		return nil, fmt.Errorf("unsupported receipt type: %s", ext)
	}
}

func (r *renderer) renderPDF(path string) ([][]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var pages [][]byte
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		img, err := doc.Image(pageNum)
		if err != nil {
			r.logger.Warn("Failed to render PDF page",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}

		data, err := encodeJPEG(img)
		if err != nil {
			r.logger.Warn("Failed to encode PDF page",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		pages = append(pages, data)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages rendered from PDF")
	}
	return pages, nil
}

func (r *renderer) renderImage(path, ext string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	var img image.Image
	switch ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(file)
	case ".png":
		img, err = png.Decode(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
