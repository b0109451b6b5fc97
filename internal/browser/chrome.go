package browser

import (
	"context"
	"errors"
	"fmt"
	"permitinfo-backend/internal/components/telemetry"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	report_chrome_launch        = "chrome.launch"
	report_chrome_new_page      = "chrome.new-page"
	report_chrome_response_body = "chrome.response-body"
	report_chrome_close         = "chrome.close"
)

// ChromeLauncher launches a Chrome (or connects to a remote one) through the
// devtools protocol.
type ChromeLauncher struct {
	opts Options
	tel  telemetry.API
}

func NewChromeLauncher(opts Options, tel telemetry.API) ChromeLauncher {
	return ChromeLauncher{
		opts: opts.withDefaults(),
		tel:  telemetry.NewScopedAPI("browser", tel),
	}
}

// Launch starts the browser. The browser lives until Close is called or `ctx`
// is done, so `ctx` should not be a short-lived request context.
func (l ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if l.opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, l.opts.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts, chromedp.Flag("headless", l.opts.Headless))
		if l.opts.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(l.opts.UserAgent))
		}
		if l.opts.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.tel.ReportDebug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			l.tel.ReportWarning(report_chrome_launch, fmt.Errorf(format, args...))
		}),
	)
	// the first run allocates the browser, it must use the context returned by
	// NewContext so that the browser isn't tied to a derived timeout
	err := chromedp.Run(browserCtx)
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		l.tel.ReportBroken(report_chrome_launch, err)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &chromeBrowser{
		ctx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
		opts: l.opts,
		tel:  l.tel,
	}, nil
}

type chromeBrowser struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opts      Options
	tel       telemetry.API
	closeOnce sync.Once
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := &chromePage{
		ctx:     tabCtx,
		cancel:  cancel,
		watcher: NewWatcher(),
		opts:    b.opts,
		tel:     b.tel,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	err := chromedp.Run(tabCtx, network.Enable())
	if err != nil {
		cancel()
		b.tel.ReportBroken(report_chrome_new_page, err)
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = chromedp.Cancel(b.ctx)
		b.cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.tel.ReportWarning(report_chrome_close, err)
		} else {
			err = nil
		}
	})
	return err
}

type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	watcher   *Watcher
	opts      Options
	tel       telemetry.API
	closeOnce sync.Once
}

func (p *chromePage) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.watcher.RequestStarted(string(ev.RequestID), ev.Request.Method, ev.Request.URL)
	case *network.EventResponseReceived:
		p.watcher.ResponseReceived(Response{
			RequestID: string(ev.RequestID),
			URL:       ev.Response.URL,
			Status:    int(ev.Response.Status),
			Document:  ev.Type == network.ResourceTypeDocument,
		})
	case *network.EventLoadingFinished:
		id := ev.RequestID
		p.watcher.RequestFinished(string(id), func() (string, error) {
			return p.responseBody(id)
		})
	case *network.EventLoadingFailed:
		p.watcher.RequestFailed(string(ev.RequestID))
	}
}

func (p *chromePage) responseBody(id network.RequestID) (string, error) {
	var body []byte
	err := p.run(context.Background(), p.opts.DefaultTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		p.tel.ReportWarning(report_chrome_response_body, err, string(id))
		return "", err
	}
	return string(body), nil
}

// run executes `actions` on the tab, bounded by `timeout` and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.opts.DefaultTimeout, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.BySearch))
}

func (p *chromePage) WaitPresent(ctx context.Context, sel string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitReady(sel, chromedp.BySearch))
}

func (p *chromePage) Exists(ctx context.Context, sel string) (bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, p.opts.DefaultTimeout, chromedp.Nodes(sel, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromePage) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	var value string
	var ok bool
	err := p.run(ctx, p.opts.DefaultTimeout, chromedp.AttributeValue(sel, name, &value, &ok, chromedp.BySearch))
	return value, ok, err
}

func (p *chromePage) Click(ctx context.Context, sel string) error {
	return p.run(ctx, p.opts.DefaultTimeout, chromedp.Click(sel, chromedp.BySearch))
}

func (p *chromePage) Fill(ctx context.Context, sel, value string) error {
	return p.run(
		ctx, p.opts.DefaultTimeout,
		chromedp.Clear(sel, chromedp.BySearch),
		chromedp.SendKeys(sel, value, chromedp.BySearch),
	)
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.opts.DefaultTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, p.opts.DefaultTimeout, chromedp.Location(&location))
	return location, err
}

// Screenshot renders the full page as a png.
func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.opts.DefaultTimeout, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (p *chromePage) WaitResponse(ctx context.Context, m ResponseMatcher, action func(ctx context.Context) error) (Response, error) {
	obs := p.watcher.Observe(m)
	defer obs.Cancel()

	err := action(ctx)
	if err != nil {
		return Response{}, err
	}
	return obs.Wait(ctx, p.opts.DefaultTimeout)
}

func (p *chromePage) WaitIdle(ctx context.Context) error {
	return p.watcher.WaitIdle(ctx, p.opts.IdleWindow, p.opts.DefaultTimeout)
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
