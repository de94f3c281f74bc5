package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"patentsmith/internal/logging"
	"patentsmith/internal/prompt"
)

// PageEnricher fetches full page text for search hits through a
// headless browser. Connection is lazy: nothing launches until the
// first page fetch, and any failure degrades the hit to its snippet.
type PageEnricher struct {
	mu         sync.Mutex
	controlURL string
	browser    *rod.Browser
	logger     *zap.Logger
}

// NewPageEnricher builds an enricher. An empty controlURL launches a
// local headless Chrome on first use; otherwise the DevTools websocket
// endpoint is used as-is.
func NewPageEnricher(controlURL string, logger *zap.Logger) *PageEnricher {
	return &PageEnricher{controlURL: controlURL, logger: logging.OrNop(logger)}
}

const pageTextBudget = 4000

func (e *PageEnricher) connect(ctx context.Context) (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil {
		return e.browser, nil
	}

	controlURL := e.controlURL
	if controlURL == "" {
		url, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	e.browser = browser
	e.logger.Debug("browser connected", zap.String("control_url", controlURL))
	return browser, nil
}

// PageText loads one URL and returns its body text, bounded to the
// enrichment budget.
func (e *PageEnricher) PageText(ctx context.Context, pageURL string) (string, error) {
	browser, err := e.connect(ctx)
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(15 * time.Second)
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("load page: %w", err)
	}
	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("locate page body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return prompt.Trim(text, pageTextBudget), nil
}

// Close disconnects the browser if one was launched.
func (e *PageEnricher) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	return err
}
