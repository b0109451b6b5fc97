// Package permitinfo automates the columbus.permitinfo.net portal: it logs in,
// reads the permit dashboard along with the plates that can be assigned to
// each active permit, and swaps the plate assigned to a permit.
//
// Every step that changes something on the portal is gated on the response the
// portal sends back, never on a fixed delay.
package permitinfo

import (
	"context"
	"fmt"
	"net/url"
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/internal/components/assert"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/internal/progress"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_session_begin        = "session.begin"
	report_session_authenticate = "session.authenticate"
	report_session_snapshot     = "session.snapshot"
	report_session_end          = "session.end"
	report_session_progress     = "session.progress"
)

var tracer = otel.Tracer("permitinfo")
var meter = otel.Meter("permitinfo")
var sessionCounter, _ = meter.Int64Counter("permitinfo.sessions")
var droppedRowCounter, _ = meter.Int64Counter("permitinfo.dropped_rows")
var updateCounter, _ = meter.Int64Counter("permitinfo.updates")

type Timeouts struct {
	// Default bounds navigations, element waits and response waits.
	Default time.Duration
	// LoginField bounds the wait for the login form to show up.
	LoginField time.Duration
	// DetailLink bounds the wait for the detail link of an active permit, the
	// link is often just not there so this should be short.
	DetailLink time.Duration
	// IdleWindow is how long the network has to be quiet to count as settled.
	IdleWindow time.Duration
}

type Config struct {
	BaseUrl     string
	Credentials Credentials
	// Debug captures a screenshot whenever something fails, it is sent to the
	// progress stream and attached to the error.
	Debug bool
	// EnrichConcurrency is how many detail pages may be open at once.
	EnrichConcurrency int
	Timeouts          Timeouts
}

func (c Config) withDefaults() Config {
	if c.BaseUrl == "" {
		c.BaseUrl = DefaultBaseUrl
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = 4
	}
	if c.Timeouts.Default <= 0 {
		c.Timeouts.Default = 30 * time.Second
	}
	if c.Timeouts.LoginField <= 0 {
		c.Timeouts.LoginField = 10 * time.Second
	}
	if c.Timeouts.DetailLink <= 0 {
		c.Timeouts.DetailLink = time.Second
	}
	if c.Timeouts.IdleWindow <= 0 {
		c.Timeouts.IdleWindow = 500 * time.Millisecond
	}
	return c
}

// BrowserOptions copies the timeouts that the browser itself enforces onto `opts`.
func (c Config) BrowserOptions(opts browser.Options) browser.Options {
	c = c.withDefaults()
	opts.DefaultTimeout = c.Timeouts.Default
	opts.IdleWindow = c.Timeouts.IdleWindow
	return opts
}

// ProgressSink receives the progress of one session, progress.Sink is the
// usual implementation.
type ProgressSink interface {
	Send(ev progress.Event)
	Close()
}

// Driver starts sessions, it holds nothing but configuration and can be shared.
type Driver struct {
	cfg      Config
	launcher browser.Launcher
	tel      telemetry.API
}

func NewDriver(cfg Config, launcher browser.Launcher, tel telemetry.API) Driver {
	assert.NotNil(launcher)
	assert.NotNil(tel)
	cfg = cfg.withDefaults()
	assert.Positive("enrich concurrency", cfg.EnrichConcurrency)

	return Driver{
		cfg:      cfg,
		launcher: launcher,
		tel:      telemetry.NewScopedAPI("permitinfo", tel),
	}
}

func (d Driver) Config() Config {
	return d.cfg
}

// Session is one browser logged into the portal on behalf of one request. It
// must be ended with End.
type Session struct {
	id      string
	cfg     Config
	browser browser.Browser
	page    browser.Page
	sink    ProgressSink
	tel     telemetry.API
	span    trace.Span

	endOnce sync.Once
}

// Begin launches a browser for a new session. The browser is not tied to the
// cancellation of `ctx`, it lives until End. `sink` is closed when the session
// ends, or right away if the session could not begin.
func (d Driver) Begin(ctx context.Context, id string, sink ProgressSink) (*Session, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "permitinfo.session", trace.WithAttributes(
		attribute.String("session.id", id),
	))

	b, err := d.launcher.Launch(ctx)
	if err != nil {
		d.tel.ReportBroken(report_session_begin, err, id)
		span.RecordError(err)
		span.End()
		sink.Close()
		return nil, fmt.Errorf("begin session: %w", err)
	}
	page, err := b.NewPage(ctx)
	if err != nil {
		d.tel.ReportBroken(report_session_begin, err, id)
		span.RecordError(err)
		span.End()
		b.Close()
		sink.Close()
		return nil, fmt.Errorf("begin session: %w", err)
	}

	sessionCounter.Add(ctx, 1)
	return &Session{
		id:      id,
		cfg:     d.cfg,
		browser: b,
		page:    page,
		sink:    sink,
		tel:     d.tel,
		span:    span,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

// End closes the browser and the progress sink, only the first call does anything.
func (s *Session) End() {
	s.endOnce.Do(func() {
		err := s.page.Close()
		if err != nil {
			s.tel.ReportWarning(report_session_end, err, s.id)
		}
		err = s.browser.Close()
		if err != nil {
			s.tel.ReportWarning(report_session_end, err, s.id)
		}
		s.log("session ended")
		s.sink.Close()
		s.span.End()
	})
}

func (s *Session) log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.tel.ReportDebug(report_session_progress, s.id, msg)
	s.sink.Send(progress.Event{Log: msg})
}

// snapshot takes a screenshot of `page` when debugging, failures to do so are
// only reported.
func (s *Session) snapshot(ctx context.Context, page browser.Page, reason string) []byte {
	if !s.cfg.Debug {
		return nil
	}
	png, err := page.Screenshot(context.WithoutCancel(ctx))
	if err != nil {
		s.tel.ReportWarning(report_session_snapshot, err, s.id)
		return nil
	}
	s.sink.Send(progress.Event{Log: reason, Image: png})
	return png
}

func (s *Session) authError(ctx context.Context, reason string, err error) error {
	s.tel.ReportWarning(report_session_authenticate, reason, err, s.id)
	return &AuthError{
		Reason:   reason,
		Err:      err,
		Snapshot: s.snapshot(ctx, s.page, "login failed: "+reason),
	}
}

// Authenticate logs into the portal. The login only counts as done once the
// portal has answered the login post, after that it waits for the network to
// settle but does not fail if it doesn't.
func (s *Session) Authenticate(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "permitinfo.authenticate")
	defer span.End()

	err := s.authenticate(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Session) authenticate(ctx context.Context, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return &AuthError{Reason: "missing credentials"}
	}

	s.log("opening %s", s.cfg.BaseUrl)
	err := s.page.Navigate(ctx, s.cfg.BaseUrl)
	if err != nil {
		return s.authError(ctx, "portal did not load", err)
	}
	err = s.page.Click(ctx, loginLink)
	if err != nil {
		return s.authError(ctx, "login link not found", err)
	}
	err = s.page.WaitVisible(ctx, usernameField, s.cfg.Timeouts.LoginField)
	if err != nil {
		return s.authError(ctx, "username field did not show up", err)
	}
	err = s.page.WaitVisible(ctx, passwordField, s.cfg.Timeouts.LoginField)
	if err != nil {
		return s.authError(ctx, "password field did not show up", err)
	}

	s.log("logging in as %s", creds.Username)
	err = s.page.Fill(ctx, usernameField, creds.Username)
	if err != nil {
		return s.authError(ctx, "could not fill username", err)
	}
	err = s.page.Fill(ctx, passwordField, creds.Password)
	if err != nil {
		return s.authError(ctx, "could not fill password", err)
	}
	_, err = s.page.WaitResponse(ctx, loginResponse, func(ctx context.Context) error {
		return s.page.Click(ctx, loginButton)
	})
	if err != nil {
		return s.authError(ctx, "login was not confirmed", err)
	}

	err = s.page.WaitIdle(ctx)
	if err != nil {
		s.tel.ReportDebug(report_session_authenticate, "network did not settle", err)
	}
	s.log("logged in")
	return nil
}

// Scrape runs a whole read session: begin, log in, scrape the dashboard, end.
// Cancelling `ctx` does not abort it.
func (d Driver) Scrape(ctx context.Context, id string, sink ProgressSink) ([]Permit, error) {
	ctx = context.WithoutCancel(ctx)
	s, err := d.Begin(ctx, id, sink)
	if err != nil {
		return nil, err
	}
	defer s.End()

	err = s.Authenticate(ctx, d.cfg.Credentials)
	if err != nil {
		return nil, err
	}
	return s.ScrapeDashboard(ctx)
}

// Update runs a whole update session: begin, update the plate, end. Cancelling
// `ctx` does not abort it.
func (d Driver) Update(ctx context.Context, id string, sink ProgressSink, req UpdateRequest) error {
	ctx = context.WithoutCancel(ctx)
	s, err := d.Begin(ctx, id, sink)
	if err != nil {
		return err
	}
	defer s.End()
	return s.UpdatePlate(ctx, req)
}

func (s *Session) baseUrl() (*url.URL, error) {
	return url.Parse(s.cfg.BaseUrl)
}
