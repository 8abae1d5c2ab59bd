package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
)

// DefaultMinText is the extracted length, in characters, below which a page
// is assumed to be rendered client-side.
const DefaultMinText = 500

// Renderer returns the HTML of a page after client-side rendering.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, url string) (string, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// thin reports whether text is too short to be the article body.
func thin(text string, minText int) bool {
	if minText <= 0 {
		minText = DefaultMinText
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) < minText
}

// ChromeRenderer renders pages in headless Chrome. Chrome or Chromium must be
// installed.
type ChromeRenderer struct {
	Timeout   time.Duration
	UserAgent string
	// Settle is how long scripts may run after the body is ready.
	Settle time.Duration
}

// Render implements Renderer.
func (r ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := r.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	settle := r.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(ua),
		)...,
	)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
