package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
)

// keyNames maps the grammar's lowercase key names to CDP key strings.
var keyNames = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"pageup":    kb.PageUp,
	"pagedown":  kb.PageDown,
}

// Session owns one headless browser tab. It produces observation frames and
// dispatches parsed actions into the page.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewSession launches a browser context under parent. Close releases it.
func NewSession(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	// Force browser start now so a broken Chrome install fails loudly here
	// instead of mid-episode.
	if err := chromedp.Run(ctx, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight))); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	cancel := func() {
		ctxCancel()
		allocCancel()
	}
	return &Session{ctx: ctx, cancel: cancel, cfg: cfg, logger: logger.Named("session")}, nil
}

// Close tears the browser context down.
func (s *Session) Close() { s.cancel() }

// Navigate loads the target URL and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx := s.ctx
	if s.cfg.NavTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(s.ctx, s.cfg.NavTimeout)
		defer cancel()
	}
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CaptureFrame takes a viewport screenshot and wraps it as an observation
// frame.
func (s *Session) CaptureFrame(ctx context.Context) (*schemas.Frame, error) {
	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return &schemas.Frame{
		Data:   buf,
		Width:  s.cfg.ViewportWidth,
		Height: s.cfg.ViewportHeight,
	}, nil
}

// Perform dispatches one parsed action into the page. WAIT sleeps briefly so
// the page can progress; DONE is a no-op, the collector ends the episode.
func (s *Session) Perform(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionClick:
		// Grammar coordinates are normalized 0-1000; scale to the viewport.
		x := float64(action.X) / 1000 * float64(s.cfg.ViewportWidth)
		y := float64(action.Y) / 1000 * float64(s.cfg.ViewportHeight)
		return chromedp.Run(s.ctx, chromedp.MouseClickXY(x, y))
	case ActionType:
		return chromedp.Run(s.ctx, input.InsertText(action.Text))
	case ActionKey:
		key, ok := keyNames[action.Key]
		if !ok {
			s.logger.Warn("unknown key name, ignoring", zap.String("key", action.Key))
			return nil
		}
		return chromedp.Run(s.ctx, chromedp.KeyEvent(key))
	case ActionScroll:
		js := fmt.Sprintf("window.scrollBy(0, %d)", action.DeltaY)
		return chromedp.Run(s.ctx, chromedp.Evaluate(js, nil))
	case ActionWait:
		return chromedp.Run(s.ctx, chromedp.Sleep(500*time.Millisecond))
	case ActionDone:
		return nil
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

// Evaluate runs a JS expression in the page and decodes the result into out.
// The grading layer uses this for its success predicates.
func (s *Session) Evaluate(ctx context.Context, expr string, out interface{}) error {
	return chromedp.Run(s.ctx, chromedp.Evaluate(expr, out))
}
