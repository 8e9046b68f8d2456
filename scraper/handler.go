package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"estate_harvester/config"
	"estate_harvester/models"
)

// Extractor opens a page in a browser, clicks through to the transaction
// view and returns the network log the page produced.
type Extractor interface {
	Capture(ctx context.Context, pageURL string) (*models.Capture, error)
}

func NewExtractor(cfg config.BrowserConfig, site *config.SiteConfig, logger *zap.Logger) (Extractor, error) {
	switch cfg.Driver {
	case "", "playwright":
		return NewBrowserHandler(cfg, site, logger), nil
	case "chromedp":
		return NewChromedpHandler(cfg, site, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver: %s", cfg.Driver)
	}
}
