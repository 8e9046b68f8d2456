package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estate_harvester/models"
)

// CodeSource resolves an estate page to its type code, or to one type code
// per block.
type CodeSource interface {
	Resolve(ctx context.Context, estateURL string) (*models.EstateCodes, error)
}

// Extractor captures the network log of an estate page.
type Extractor interface {
	Capture(ctx context.Context, pageURL string) (*models.Capture, error)
}

// BrowserSource is the production CodeSource: it drives a browser through
// the page and reads the codes off the network log. When RecordDir is set,
// every capture is also saved there for later offline runs.
type BrowserSource struct {
	extractor Extractor
	replayer  MenuReplayer
	logger    *zap.Logger
	RecordDir string
}

func NewBrowserSource(extractor Extractor, replayer MenuReplayer, logger *zap.Logger) *BrowserSource {
	return &BrowserSource{extractor: extractor, replayer: replayer, logger: logger}
}

func (s *BrowserSource) Resolve(ctx context.Context, estateURL string) (*models.EstateCodes, error) {
	capture, err := s.extractor.Capture(ctx, estateURL)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", estateURL, err)
	}

	if s.RecordDir != "" {
		if err := SaveCapture(s.RecordDir, capture); err != nil {
			s.logger.Warn("failed to record capture", zap.String("url", estateURL), zap.Error(err))
		}
	}

	return CodesFromCapture(ctx, capture, s.replayer)
}

// RecordedExtractor serves captures previously written by SaveCapture.
type RecordedExtractor struct {
	Dir string
}

func (r *RecordedExtractor) Capture(ctx context.Context, pageURL string) (*models.Capture, error) {
	data, err := os.ReadFile(capturePath(r.Dir, pageURL))
	if err != nil {
		return nil, fmt.Errorf("no recorded capture for %s: %w", pageURL, err)
	}

	var capture models.Capture
	if err := json.Unmarshal(data, &capture); err != nil {
		return nil, fmt.Errorf("decode capture for %s: %w", pageURL, err)
	}
	if capture.PageURL == "" {
		capture.PageURL = pageURL
	}
	return &capture, nil
}

func SaveCapture(dir string, capture *models.Capture) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(capture, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(capturePath(dir, capture.PageURL), data, 0644)
}

// Capture files are named by a UUIDv5 of the page URL so any URL maps to a
// safe, stable filename.
func capturePath(dir, pageURL string) string {
	return filepath.Join(dir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL)).String()+".json")
}
