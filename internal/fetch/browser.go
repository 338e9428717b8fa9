package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Chromedp renders the page in headless Chrome over the DevTools protocol
// and returns the resulting document. It is slow, so it sits behind the
// plain HTTP strategies.
type Chromedp struct {
	execPath string
	settle   time.Duration
}

// NewChromedp creates the chromedp strategy. An empty execPath lets
// chromedp find a local Chrome.
func NewChromedp(execPath string, settle time.Duration) *Chromedp {
	return &Chromedp{execPath: execPath, settle: settle}
}

func (c *Chromedp) Name() string { return NameChromedp }

func (c *Chromedp) Fetch(ctx context.Context, req Request) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if ua := req.Header.Get("User-Agent"); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	headers := make(network.Headers, len(req.Header))
	for k := range req.Header {
		if k == "User-Agent" {
			continue
		}
		headers[k] = req.Header.Get(k)
	}

	var html string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(req.URL),
		chromedp.Sleep(c.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering page with chromedp: %w", err)
	}
	return []byte(html), nil
}

// Rod renders the page with a second, independently launched browser
// session. It is the last resort when chromedp cannot start or is blocked.
type Rod struct {
	binPath string
	settle  time.Duration
}

// NewRod creates the rod strategy. An empty binPath lets the launcher
// locate a browser.
func NewRod(binPath string, settle time.Duration) *Rod {
	return &Rod{binPath: binPath, settle: settle}
}

func (r *Rod) Name() string { return NameRod }

func (r *Rod) Fetch(ctx context.Context, req Request) ([]byte, error) {
	l := launcher.New().Headless(true).Context(ctx)
	if r.binPath != "" {
		l = l.Bin(r.binPath)
	}
	defer l.Kill()

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}

	if ua := req.Header.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			return nil, fmt.Errorf("setting user agent: %w", err)
		}
	}

	extra := make([]string, 0, 2*len(req.Header))
	for k := range req.Header {
		if k == "User-Agent" {
			continue
		}
		extra = append(extra, k, req.Header.Get(k))
	}
	if len(extra) > 0 {
		cleanup, err := page.SetExtraHeaders(extra)
		if err != nil {
			return nil, fmt.Errorf("setting headers: %w", err)
		}
		defer cleanup()
	}

	if err := page.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("navigating: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting for load: %w", err)
	}
	if r.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.settle):
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("reading page html: %w", err)
	}
	return []byte(html), nil
}
