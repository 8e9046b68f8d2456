package scraper

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"estate_harvester/config"
	"estate_harvester/models"
)

// ChromedpHandler is the CDP-native extractor. It listens to the same
// Network.* events the Chrome performance log is built from.
type ChromedpHandler struct {
	cfg    config.BrowserConfig
	site   *config.SiteConfig
	logger *zap.Logger
}

func NewChromedpHandler(cfg config.BrowserConfig, site *config.SiteConfig, logger *zap.Logger) *ChromedpHandler {
	return &ChromedpHandler{cfg: cfg, site: site, logger: logger.Named("chromedp")}
}

func (h *ChromedpHandler) Capture(ctx context.Context, pageURL string) (*models.Capture, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", h.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(h.site.UserAgent),
	)
	if h.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(h.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	netlog := &eventLog{}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			netlog.add(models.NetworkEvent{
				Method:     models.EventRequestWillBeSent,
				RequestID:  string(e.RequestID),
				URL:        e.Request.URL,
				HTTPMethod: e.Request.Method,
				Headers:    flattenHeaders(e.Request.Headers),
			})
		case *network.EventResponseReceived:
			netlog.add(models.NetworkEvent{
				Method:    models.EventResponseReceived,
				RequestID: string(e.RequestID),
				URL:       e.Response.URL,
				Headers:   flattenHeaders(e.Response.Headers),
				Status:    int(e.Response.Status),
			})
		}
	})

	h.logger.Info("navigating", zap.String("url", pageURL))
	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(pageURL)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	if err := h.openTransactions(tabCtx); err != nil {
		return nil, err
	}

	if err := WaitUntil(ctx, h.cfg.SettleTimeout, h.cfg.PollInterval, func() bool {
		return netlog.any(tableReady)
	}); err != nil {
		h.logger.Debug("consumption table request not seen before settle timeout", zap.Error(err))
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		h.logger.Warn("failed to read page content", zap.Error(err))
	}

	capture := &models.Capture{
		PageURL: pageURL,
		HTML:    html,
		Title:   PageTitle(html),
		Events:  netlog.snapshot(),
	}
	h.logger.Info("captured network log", zap.Int("events", len(capture.Events)))
	return capture, nil
}

func (h *ChromedpHandler) openTransactions(tabCtx context.Context) error {
	waitCtx, cancel := context.WithTimeout(tabCtx, h.cfg.SettleTimeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(h.site.TransactionTab, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %s", models.ErrElementNotFound, h.site.TransactionTab)
	}

	attempts := h.cfg.ClickAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = chromedp.Run(tabCtx, chromedp.Click(h.site.TransactionTab, chromedp.ByQuery, chromedp.NodeVisible))
		if lastErr == nil {
			return nil
		}
		h.logger.Warn("click failed, retrying", zap.Int("attempt", attempt), zap.Error(lastErr))
		if err := chromedp.Run(tabCtx, chromedp.Sleep(h.cfg.PollInterval)); err != nil {
			return err
		}
	}

	return fmt.Errorf("click %s after %d attempts: %w", h.site.TransactionTab, attempts, lastErr)
}

func flattenHeaders(headers network.Headers) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = fmt.Sprint(v)
	}
	return out
}
