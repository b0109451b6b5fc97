// Package browser is the automation backend the portal scraper drives. Pages expose
// just enough of a browser for a linear "navigate, wait, click, read" script, plus
// response observers so that steps are gated on what the portal actually answered
// instead of on fixed sleeps.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrTimeout is returned (wrapped) by every bounded wait that runs out of time.
var ErrTimeout = errors.New("timed out")

// Options configure how browsers are launched and how long waits may take.
type Options struct {
	Headless bool
	// RemoteURL connects to an already running browser (ex. a headless-shell
	// container) instead of launching a local one.
	RemoteURL string
	ExecPath  string
	UserAgent string

	// DefaultTimeout bounds every navigation, element wait and response wait
	// that does not take an explicit timeout.
	DefaultTimeout time.Duration
	// IdleWindow is how long the network must stay quiet to count as idle.
	IdleWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = 500 * time.Millisecond
	}
	return o
}

// Launcher starts one browser, a Session owns exactly one.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Close releases the browser and every page opened in it, it is safe to call
	// more than once.
	Close() error
}

// Page is a single tab. Selectors are CSS selectors or XPath expressions.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible waits until `sel` is rendered and visible.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// WaitPresent waits until `sel` is in the DOM, visible or not.
	WaitPresent(ctx context.Context, sel string, timeout time.Duration) error
	// Exists reports whether `sel` currently matches anything, without waiting.
	Exists(ctx context.Context, sel string) (bool, error)
	Attribute(ctx context.Context, sel, name string) (string, bool, error)
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, value string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// WaitResponse registers an observer for `m`, runs `action` and then waits
	// for the first response matching `m`. Responses that arrive while `action`
	// is still running are not missed.
	WaitResponse(ctx context.Context, m ResponseMatcher, action func(ctx context.Context) error) (Response, error)
	// WaitIdle waits until no request has been in flight for the idle window.
	WaitIdle(ctx context.Context) error

	Close() error
}

// Response is what the page observed for a single request.
type Response struct {
	RequestID string
	URL       string
	Method    string
	Status    int
	// Document is true for top-level navigations.
	Document bool
	// Body is only filled in when a matcher asked for it.
	Body string
}

// ResponseMatcher is a predicate over observed responses, zero fields match anything.
type ResponseMatcher struct {
	// Name shows up in timeout errors.
	Name         string
	PathContains string
	// PathIn matches when the path equals one of the entries.
	PathIn       []string
	Method       string
	Status       int
	BodyContains string
	Document     bool
}

func (m ResponseMatcher) String() string {
	if m.Name != "" {
		return m.Name
	}
	var parts []string
	if m.Method != "" {
		parts = append(parts, m.Method)
	}
	if m.PathContains != "" {
		parts = append(parts, fmt.Sprintf("path~%q", m.PathContains))
	}
	if len(m.PathIn) > 0 {
		parts = append(parts, fmt.Sprintf("path in %v", m.PathIn))
	}
	if m.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", m.Status))
	}
	if m.BodyContains != "" {
		parts = append(parts, fmt.Sprintf("body~%q", m.BodyContains))
	}
	if m.Document {
		parts = append(parts, "document")
	}
	if len(parts) == 0 {
		return "any response"
	}
	return strings.Join(parts, " ")
}

func (m ResponseMatcher) NeedsBody() bool {
	return m.BodyContains != ""
}

// MatchMeta checks everything except the body.
func (m ResponseMatcher) MatchMeta(r Response) bool {
	if m.Method != "" && !strings.EqualFold(m.Method, r.Method) {
		return false
	}
	if m.Status != 0 && m.Status != r.Status {
		return false
	}
	if m.Document && !r.Document {
		return false
	}
	if m.PathContains == "" && len(m.PathIn) == 0 {
		return true
	}

	path := strings.ToLower(r.URL)
	parsed, err := url.Parse(r.URL)
	if err == nil {
		path = strings.ToLower(parsed.Path)
	}
	if path == "" {
		path = "/"
	}
	if m.PathContains != "" && !strings.Contains(path, strings.ToLower(m.PathContains)) {
		return false
	}
	if len(m.PathIn) > 0 && !slices.ContainsFunc(m.PathIn, func(p string) bool {
		return strings.EqualFold(p, path)
	}) {
		return false
	}
	return true
}

func (m ResponseMatcher) Match(r Response) bool {
	if !m.MatchMeta(r) {
		return false
	}
	return m.BodyContains == "" || strings.Contains(r.Body, m.BodyContains)
}
