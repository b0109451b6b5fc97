package permitinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/internal/progress"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBaseUrl = "https://columbus.permitinfo.net"

func readFixture(t *testing.T, name string) string {
	t.Helper()
	contents, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return string(contents)
}

// fakePortal is a scripted stand-in for a browser logged into the portal. It
// keeps an ordered log of everything that was done to it.
type fakePortal struct {
	mu    sync.Mutex
	calls []string

	dashboard string
	details   map[string]string
	// lateLinks are detail links of dashboard rows (by index) that only show
	// up after a while
	lateLinks map[int]string

	loginFormMissing bool
	loginUnconfirmed bool
	dashboardMissing bool
	selected         bool
	plates           []string
	activateResponds bool
	confirmNavigates bool
	screenshotFails  bool
	launchFails      bool

	timeout    time.Duration
	openPages  int
	maxOpen    int
	pages      int
	closed     int
	requestSeq int
}

func newFakePortal(t *testing.T) *fakePortal {
	detail := readFixture(t, "detail.html")
	return &fakePortal{
		dashboard: readFixture(t, "dashboard.html"),
		details: map[string]string{
			testBaseUrl + "/Secure/PermitDetail.aspx?id=10442": detail,
			testBaseUrl + "/Secure/PermitDetail.aspx?id=9120":  detail,
			testBaseUrl + "/Secure/PermitDetail.aspx?id=20001": detail,
		},
		plates:           []string{"ABC123", "XYZ789"},
		activateResponds: true,
		confirmNavigates: true,
		timeout:          50 * time.Millisecond,
	}
}

func (f *fakePortal) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls that start with one of `prefixes`.
func (f *fakePortal) Calls(prefixes ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *fakePortal) Launch(ctx context.Context) (browser.Browser, error) {
	if f.launchFails {
		return nil, errors.New("chrome not found")
	}
	f.record("launch")
	return &fakeBrowser{portal: f}, nil
}

type fakeBrowser struct {
	portal *fakePortal
	once   sync.Once
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	f := b.portal
	f.mu.Lock()
	f.pages++
	f.openPages++
	if f.openPages > f.maxOpen {
		f.maxOpen = f.openPages
	}
	f.mu.Unlock()
	return &fakePage{portal: f, watcher: browser.NewWatcher()}, nil
}

func (b *fakeBrowser) Close() error {
	b.once.Do(func() {
		b.portal.record("browser.close")
	})
	return nil
}

type fakePage struct {
	portal  *fakePortal
	watcher *browser.Watcher

	mu     sync.Mutex
	url    string
	view   string
	closed bool
}

func (p *fakePage) setView(url, view string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.view = view
}

func (p *fakePage) currentView() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.view
}

// respond feeds a response to the page's watcher the way the browser would.
func (p *fakePage) respond(method, url string, status int, document bool, body string) {
	f := p.portal
	f.mu.Lock()
	f.requestSeq++
	id := fmt.Sprint(f.requestSeq)
	f.mu.Unlock()

	p.watcher.RequestStarted(id, method, url)
	p.watcher.ResponseReceived(browser.Response{
		RequestID: id,
		URL:       url,
		Status:    status,
		Document:  document,
	})
	p.watcher.RequestFinished(id, func() (string, error) {
		return body, nil
	})
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	f := p.portal
	f.record("navigate %s", url)
	if url == testBaseUrl || url == testBaseUrl+"/" {
		p.setView(testBaseUrl+"/", "root")
		p.respond("GET", testBaseUrl+"/", 200, true, "")
		return nil
	}
	if html, ok := f.details[url]; ok {
		p.setView(url, "detail:"+html)
		p.respond("GET", url, 200, true, html)
		return nil
	}
	return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
}

func (p *fakePage) visible(sel string) bool {
	f := p.portal
	_, view := p.currentView()
	switch sel {
	case loginLink:
		return view == "root"
	case usernameField, passwordField, loginButton:
		return view == "login" && !f.loginFormMissing
	case dashboardTable:
		return view == "dashboard" && !f.dashboardMissing
	case updateButton:
		return strings.HasPrefix(view, "detail:")
	case selectedToggle:
		f.mu.Lock()
		defer f.mu.Unlock()
		return strings.HasPrefix(view, "detail:") && f.selected
	}
	if strings.HasPrefix(view, "detail:") {
		for _, plate := range f.plates {
			if sel == plateToggle(plate) {
				return true
			}
		}
	}
	return false
}

func (p *fakePage) timeoutErr(sel string) error {
	return fmt.Errorf("%w: waiting for %s", browser.ErrTimeout, sel)
}

func (p *fakePage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	p.portal.record("wait-visible %s", sel)
	if !p.visible(sel) {
		return p.timeoutErr(sel)
	}
	return nil
}

func (p *fakePage) WaitPresent(ctx context.Context, sel string, timeout time.Duration) error {
	p.portal.record("wait-present %s", sel)
	for n := range p.portal.lateLinks {
		if sel == dashboardRowLink(n) {
			return nil
		}
	}
	return p.timeoutErr(sel)
}

func (p *fakePage) Exists(ctx context.Context, sel string) (bool, error) {
	p.portal.record("exists %s", sel)
	return p.visible(sel), nil
}

func (p *fakePage) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	for n, href := range p.portal.lateLinks {
		if sel == dashboardRowLink(n) && name == "href" {
			return href, true, nil
		}
	}
	return "", false, nil
}

func (p *fakePage) Click(ctx context.Context, sel string) error {
	f := p.portal
	if !p.visible(sel) {
		return fmt.Errorf("click %s: %w", sel, browser.ErrTimeout)
	}
	f.record("click %s", sel)

	switch sel {
	case loginLink:
		p.setView(testBaseUrl+"/index.aspx", "login")
		p.respond("POST", testBaseUrl+"/index.aspx", 200, true, "")
	case loginButton:
		p.setView(testBaseUrl+"/index.aspx", "dashboard")
		if !f.loginUnconfirmed {
			p.respond("POST", testBaseUrl+"/index.aspx", 302, true, "")
		}
	case selectedToggle:
		f.mu.Lock()
		f.selected = false
		f.mu.Unlock()
		p.respond("POST", testBaseUrl+"/index.aspx", 200, false, `<table id="MainContent_gvPlates"></table>`)
	case updateButton:
		if f.confirmNavigates {
			p.setView(testBaseUrl+"/", "root")
			p.respond("GET", testBaseUrl+"/", 200, true, "")
		}
	default:
		// plate toggles
		f.mu.Lock()
		f.selected = true
		responds := f.activateResponds
		f.mu.Unlock()
		if responds {
			p.respond("POST", testBaseUrl+"/index.aspx", 200, false, `<tr class="selected"><td>activated</td></tr>`)
		}
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, sel, value string) error {
	p.portal.record("fill %s", sel)
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	_, view := p.currentView()
	switch {
	case view == "dashboard":
		return p.portal.dashboard, nil
	case strings.HasPrefix(view, "detail:"):
		return strings.TrimPrefix(view, "detail:"), nil
	}
	return "<html><body></body></html>", nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	url, _ := p.currentView()
	return url, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.portal.record("screenshot")
	if p.portal.screenshotFails {
		return nil, errors.New("target closed")
	}
	return []byte("png"), nil
}

func (p *fakePage) WaitResponse(ctx context.Context, m browser.ResponseMatcher, action func(ctx context.Context) error) (browser.Response, error) {
	obs := p.watcher.Observe(m)
	defer obs.Cancel()

	err := action(ctx)
	if err != nil {
		return browser.Response{}, err
	}
	res, err := obs.Wait(ctx, p.portal.timeout)
	if err != nil {
		p.portal.record("response-timeout %s", m)
		return browser.Response{}, err
	}
	p.portal.record("response %s", m)
	return res, nil
}

func (p *fakePage) WaitIdle(ctx context.Context) error {
	p.portal.record("idle")
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	f := p.portal
	f.mu.Lock()
	f.openPages--
	f.closed++
	f.mu.Unlock()
	return nil
}

// fakeSink records progress events.
type fakeSink struct {
	mu     sync.Mutex
	events []progress.Event
	closed int
}

func (s *fakeSink) Send(ev progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *fakeSink) Images() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, ev := range s.events {
		if len(ev.Image) > 0 {
			out = append(out, ev.Image)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		BaseUrl:     testBaseUrl,
		Credentials: Credentials{Username: "jordan", Password: "hunter2"},
		Timeouts: Timeouts{
			Default:    50 * time.Millisecond,
			LoginField: 50 * time.Millisecond,
			DetailLink: 10 * time.Millisecond,
			IdleWindow: 10 * time.Millisecond,
		},
	}
}
