// File: internal/browser/chromedp.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/config"
)

// Session implements Capability on top of a dedicated Chrome tab driven via
// CDP. One Session is exclusively owned by one run at a time.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	logger      *zap.Logger
	navWait     time.Duration
}

var _ Capability = (*Session)(nil)

// NewSession launches a browser tab configured per cfg. The returned session
// must be closed by the caller.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(parts[0], parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(parts[0], true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so failures surface here
	// rather than on the first step.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	return &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		logger:      logger.Named("browser"),
		navWait:     cfg.NavigationWait,
	}, nil
}

// run executes chromedp actions on the session tab while honoring the
// caller's context for cancellation and deadlines.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		// Prefer the caller's context error so timeouts classify correctly.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// evaluate runs a JS expression and unmarshals its JSON result into out.
func (s *Session) evaluate(ctx context.Context, script string, out any) error {
	var raw json.RawMessage
	err := s.run(ctx, chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return err
	}
	if out == nil || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshaling evaluate result: %w", err)
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if s.navWait > 0 {
		actions = append(actions, chromedp.Sleep(s.navWait))
	}
	if err := s.run(ctx, actions...); err != nil {
		return &schemas.ActionExecutionError{Action: "navigate", Err: err}
	}
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", &schemas.ActionExecutionError{Action: "current_url", Err: err}
	}
	return url, nil
}

func (s *Session) Find(ctx context.Context, selector string) (int, error) {
	var count int
	if err := s.evaluate(ctx, countScript(selector), &count); err != nil {
		return 0, &schemas.ActionExecutionError{Action: "find", Err: err}
	}
	return count, nil
}

func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := s.evaluate(ctx, visibleScript(selector), &visible); err != nil {
		return false, &schemas.ActionExecutionError{Action: "is_visible", Err: err}
	}
	return visible, nil
}

// require returns ElementNotFoundError when the selector matches nothing,
// keeping "missing" distinct from "present but broken" for recovery routing.
func (s *Session) require(ctx context.Context, selector string) error {
	count, err := s.Find(ctx, selector)
	if err != nil {
		return err
	}
	if count == 0 {
		return &schemas.ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.Click(selector, queryOpt(selector))); err != nil {
		return &schemas.ActionExecutionError{Action: "click", Err: err}
	}
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	err := s.run(ctx,
		chromedp.Clear(selector, queryOpt(selector)),
		chromedp.SendKeys(selector, text, queryOpt(selector)),
	)
	if err != nil {
		return &schemas.ActionExecutionError{Action: "type", Err: err}
	}
	return nil
}

func (s *Session) Extract(ctx context.Context, selector string) (string, error) {
	if err := s.require(ctx, selector); err != nil {
		return "", err
	}
	var text string
	if err := s.evaluate(ctx, textScript(selector), &text); err != nil {
		return "", &schemas.ActionExecutionError{Action: "extract", Err: err}
	}
	return strings.TrimSpace(text), nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.run(waitCtx, chromedp.WaitVisible(selector, queryOpt(selector)))
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			// A wait that never resolved is indistinguishable from a missing
			// element, which is what makes it healable.
			return &schemas.ElementNotFoundError{Selector: selector}
		}
		return &schemas.ActionExecutionError{Action: "wait_for_selector", Err: err}
	}
	return nil
}

func (s *Session) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// Settled readyState plus fully answered resource fetches approximates idle.
	var idle bool
	err := s.run(waitCtx, chromedp.Poll(
		`document.readyState === 'complete' && performance.getEntriesByType('resource').every(r => r.responseEnd > 0)`,
		&idle,
		chromedp.WithPollingInterval(100*time.Millisecond),
	))
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return &schemas.TimeoutError{Op: "wait_for_network_idle", Budget: timeout}
		}
		return &schemas.ActionExecutionError{Action: "wait_for_network_idle", Err: err}
	}
	return nil
}

func (s *Session) Snapshot(ctx context.Context) (*PageSnapshot, error) {
	var snap PageSnapshot
	if err := s.evaluate(ctx, snapshotScript, &snap); err != nil {
		return nil, &schemas.ActionExecutionError{Action: "snapshot", Err: err}
	}
	s.logger.Debug("Captured page snapshot",
		zap.String("url", snap.URL), zap.Int("elements", len(snap.Elements)))
	return &snap, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

// queryOpt picks the chromedp query mode: selectors beginning with "/" or
// "(" are treated as XPath, everything else as CSS.
func queryOpt(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// jsonEncode safely embeds a Go string into a JS snippet.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// isXPath mirrors queryOpt for the JS helpers.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

func countScript(selector string) string {
	if isXPath(selector) {
		return fmt.Sprintf(`(function(sel){
			try {
				const r = document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
				return r.snapshotLength;
			} catch (e) { return 0; }
		})(%s)`, jsonEncode(selector))
	}
	return fmt.Sprintf(`(function(sel){
		try { return document.querySelectorAll(sel).length; } catch (e) { return 0; }
	})(%s)`, jsonEncode(selector))
}

func visibleScript(selector string) string {
	return fmt.Sprintf(`(function(sel, xpath){
		let node = null;
		try {
			if (xpath) {
				node = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			} else {
				node = document.querySelector(sel);
			}
		} catch (e) { return false; }
		if (!node) return false;
		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	})(%s, %t)`, jsonEncode(selector), isXPath(selector))
}

func textScript(selector string) string {
	return fmt.Sprintf(`(function(sel, xpath){
		let node = null;
		try {
			if (xpath) {
				node = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			} else {
				node = document.querySelector(sel);
			}
		} catch (e) { return ""; }
		if (!node) return "";
		if (node.value !== undefined && node.tagName !== 'BUTTON') return String(node.value);
		return node.textContent || "";
	})(%s, %t)`, jsonEncode(selector), isXPath(selector))
}

// snapshotScript inventories elements that carry at least one addressable
// signal (id, name, data-testid, aria-label, placeholder, role) or are
// interactive/heading tags with text. Capped to keep payloads bounded.
const snapshotScript = `(function(){
	const MAX = 1500;
	const interactive = new Set(['a','button','input','select','textarea','label','h1','h2','h3','h4','h5','h6']);
	const out = [];

	function xpathOf(node) {
		const parts = [];
		for (let n = node; n && n.nodeType === Node.ELEMENT_NODE; n = n.parentNode) {
			let idx = 1;
			for (let sib = n.previousElementSibling; sib; sib = sib.previousElementSibling) {
				if (sib.tagName === n.tagName) idx++;
			}
			parts.unshift(n.tagName.toLowerCase() + '[' + idx + ']');
		}
		return '/' + parts.join('/');
	}

	const all = document.getElementsByTagName('*');
	for (let i = 0; i < all.length && out.length < MAX; i++) {
		const node = all[i];
		const tag = node.tagName.toLowerCase();
		const attrs = {};
		for (const a of node.attributes) attrs[a.name] = a.value;
		const testid = attrs['data-testid'] || attrs['data-test-id'] || attrs['data-test'] || '';
		const hasSignal = attrs['id'] || attrs['name'] || testid || attrs['aria-label'] ||
			attrs['placeholder'] || attrs['role'];
		let text = '';
		if (interactive.has(tag) || hasSignal) {
			text = (node.textContent || '').trim().replace(/\s+/g, ' ').slice(0, 120);
		}
		if (!hasSignal && !(interactive.has(tag) && text)) continue;

		let depth = 0, pos = 1;
		for (let p = node.parentNode; p && p.nodeType === Node.ELEMENT_NODE; p = p.parentNode) depth++;
		for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
			if (sib.tagName === node.tagName) pos++;
		}

		out.push({
			tag: tag,
			id: attrs['id'] || '',
			name: attrs['name'] || '',
			testid: testid,
			aria: attrs['aria-label'] || '',
			placeholder: attrs['placeholder'] || '',
			text: text,
			attrs: attrs,
			xpath: xpathOf(node),
			depth: depth,
			pos: pos
		});
	}
	return { url: window.location.href, elements: out };
})()`
