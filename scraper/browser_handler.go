package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"estate_harvester/config"
	"estate_harvester/models"
)

// BrowserHandler captures network logs with Playwright-driven Chromium. Each
// Capture call owns a fresh browser that is torn down before returning.
type BrowserHandler struct {
	cfg    config.BrowserConfig
	site   *config.SiteConfig
	logger *zap.Logger
}

func NewBrowserHandler(cfg config.BrowserConfig, site *config.SiteConfig, logger *zap.Logger) *BrowserHandler {
	return &BrowserHandler{cfg: cfg, site: site, logger: logger.Named("playwright")}
}

func (h *BrowserHandler) Capture(ctx context.Context, pageURL string) (*models.Capture, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	defer pw.Stop()

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(h.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if h.cfg.ExecPath != "" {
		launch.ExecutablePath = playwright.String(h.cfg.ExecPath)
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer browser.Close()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(h.site.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	netlog := &eventLog{}
	h.recordNetwork(page, netlog)

	h.logger.Info("navigating", zap.String("url", pageURL))
	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		h.logger.Warn("navigation error (continuing)", zap.Error(err))
	}

	if err := h.openTransactions(page); err != nil {
		return nil, err
	}

	if err := WaitUntil(ctx, h.cfg.SettleTimeout, h.cfg.PollInterval, func() bool {
		return netlog.any(tableReady)
	}); err != nil {
		h.logger.Debug("consumption table request not seen before settle timeout", zap.Error(err))
	}

	html, err := page.Content()
	if err != nil {
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

// recordNetwork mirrors the Chrome performance log: one entry per outgoing
// request and one per response, linked by a request id.
func (h *BrowserHandler) recordNetwork(page playwright.Page, netlog *eventLog) {
	var mu sync.Mutex
	ids := make(map[playwright.Request]string)
	next := 0

	idFor := func(req playwright.Request) string {
		mu.Lock()
		defer mu.Unlock()
		if id, ok := ids[req]; ok {
			return id
		}
		next++
		id := strconv.Itoa(next)
		ids[req] = id
		return id
	}

	page.OnRequest(func(req playwright.Request) {
		netlog.add(models.NetworkEvent{
			Method:     models.EventRequestWillBeSent,
			RequestID:  idFor(req),
			URL:        req.URL(),
			HTTPMethod: req.Method(),
			Headers:    req.Headers(),
		})
	})

	page.OnResponse(func(resp playwright.Response) {
		netlog.add(models.NetworkEvent{
			Method:    models.EventResponseReceived,
			RequestID: idFor(resp.Request()),
			URL:       resp.URL(),
			Headers:   resp.Headers(),
			Status:    resp.Status(),
		})
	})
}

// openTransactions clicks the element that makes the page load its
// transaction data. Another element covering it ("intercepts pointer
// events") is retried up to ClickAttempts times.
func (h *BrowserHandler) openTransactions(page playwright.Page) error {
	tab := page.Locator(h.site.TransactionTab).First()

	if err := tab.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(h.cfg.SettleTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("%w: %s", models.ErrElementNotFound, h.site.TransactionTab)
	}

	attempts := h.cfg.ClickAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = tab.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)})
		if lastErr == nil {
			return nil
		}
		if !isClickIntercepted(lastErr) {
			return fmt.Errorf("click %s: %w", h.site.TransactionTab, lastErr)
		}
		h.logger.Warn("click intercepted, retrying", zap.Int("attempt", attempt), zap.Error(lastErr))
		page.WaitForTimeout(float64(h.cfg.PollInterval.Milliseconds()))
	}

	return fmt.Errorf("click %s after %d attempts: %w", h.site.TransactionTab, attempts, lastErr)
}

func isClickIntercepted(err error) bool {
	// Playwright keeps retrying a covered element until the click times out.
	if errors.Is(err, playwright.ErrTimeout) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "intercepts pointer events") || strings.Contains(msg, "not receive pointer events")
}
