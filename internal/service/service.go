// Package service is the web front of the permit automation: it renders the
// permit list, accepts plate updates and streams session progress.
package service

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"permitinfo-backend/internal/components/assert"
	"permitinfo-backend/internal/components/chrono"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/internal/notify"
	"permitinfo-backend/internal/progress"
	"permitinfo-backend/internal/scrapers/permitinfo"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	report_render    = "render"
	report_session   = "session-id"
	report_login     = "login"
	report_dashboard = "dashboard"
	report_update    = "update"
	report_notify    = "notify"
	report_encode    = "encode"
)

//go:embed views/*.html
var viewsFS embed.FS

// Automation runs whole portal sessions, permitinfo.Driver implements it.
type Automation interface {
	Scrape(ctx context.Context, id string, sink permitinfo.ProgressSink) ([]permitinfo.Permit, error)
	Update(ctx context.Context, id string, sink permitinfo.ProgressSink, req permitinfo.UpdateRequest) error
}

// CredentialChecker is permitinfo.FormLogin.
type CredentialChecker interface {
	Check(ctx context.Context, creds permitinfo.Credentials) error
}

// Notifier is told about every plate that was successfully swapped.
type Notifier interface {
	PlateUpdated(ctx context.Context, u notify.PlateUpdate) error
}

type Options struct {
	Automation Automation
	Checker    CredentialChecker
	Notifier   Notifier
	Registry   *progress.Registry
	Clock      chrono.API
	// Credentials are checked by POST /login when the form is left empty.
	Credentials permitinfo.Credentials
}

type Service struct {
	opts  Options
	views map[string]*template.Template
	tel   telemetry.API
}

func NewService(opts Options, tel telemetry.API) (Service, error) {
	assert.NotNil(opts.Automation)
	assert.NotNil(opts.Checker)
	assert.NotNil(opts.Notifier)
	assert.NotNil(opts.Registry)
	assert.NotNil(opts.Clock)
	assert.NotNil(tel)

	views := map[string]*template.Template{}
	for _, name := range []string{"index", "dashboard", "error"} {
		t, err := template.ParseFS(viewsFS, "views/layout.html", "views/"+name+".html")
		if err != nil {
			return Service{}, err
		}
		views[name] = t
	}

	return Service{
		opts:  opts,
		views: views,
		tel:   telemetry.NewScopedAPI("service", tel),
	}, nil
}

// Router mounts every route of the service.
func (s Service) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/", s.handleIndex)
	router.Post("/login", s.handleLogin)
	router.Get("/dashboard", s.handleDashboard)
	router.Get("/events/{sessionId}", s.handleEvents)
	router.Get("/ws/{sessionId}", s.handleWebSocket)
	router.Post("/update", s.handleUpdate)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return router
}

type page struct {
	Title     string
	SessionID string
	Message   string
	Permits   []permitinfo.Permit
	Image     template.URL
}

func (s Service) render(w http.ResponseWriter, status int, name string, data page) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := s.views[name].ExecuteTemplate(w, name+".html", data)
	if err != nil {
		s.tel.ReportBroken(report_render, err, name)
	}
}

func (s Service) newSessionID(w http.ResponseWriter) (string, bool) {
	id, err := progress.NewID()
	if err != nil {
		s.tel.ReportBroken(report_session, err)
		http.Error(w, "could not create a session", http.StatusInternalServerError)
		return "", false
	}
	return id, true
}

// sessionID reuses the session id the client supplied so that it keeps
// receiving progress on the stream it already opened.
func (s Service) sessionID(w http.ResponseWriter, supplied string) (string, bool) {
	if supplied != "" {
		return supplied, true
	}
	return s.newSessionID(w)
}

func (s Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, ok := s.newSessionID(w)
	if !ok {
		return
	}
	s.render(w, http.StatusOK, "index", page{Title: "Parking permits", SessionID: id})
}

func (s Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds := permitinfo.Credentials{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}
	if creds.Username == "" && creds.Password == "" {
		creds = s.opts.Credentials
	}

	id, ok := s.newSessionID(w)
	if !ok {
		return
	}

	message := "Login successful."
	status := http.StatusOK
	err = s.opts.Checker.Check(r.Context(), creds)
	if err != nil {
		s.tel.ReportWarning(report_login, err)
		message = "Login failed: " + err.Error()
		status = http.StatusUnauthorized
	}
	s.render(w, status, "index", page{
		Title:     "Parking permits",
		SessionID: id,
		Message:   message,
	})
}

func (s Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}

	permits, err := s.opts.Automation.Scrape(r.Context(), id, s.opts.Registry.Sink(id))
	if err != nil {
		s.tel.ReportWarning(report_dashboard, err, id)
		data := page{
			Title:     "Something went wrong",
			SessionID: id,
			Message:   err.Error(),
		}
		snapshot := permitinfo.SnapshotOf(err)
		if len(snapshot) > 0 {
			data.Image = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(snapshot))
		}
		s.render(w, http.StatusBadGateway, "error", data)
		return
	}

	s.render(w, http.StatusOK, "dashboard", page{
		Title:     "Your permits",
		SessionID: id,
		Permits:   permits,
	})
}

func (s Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := s.opts.Registry.Open(chi.URLParam(r, "sessionId"))
	progress.ServeSSE(w, r, ch)
}

func (s Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ch := s.opts.Registry.Open(chi.URLParam(r, "sessionId"))
	progress.ServeWebSocket(w, r, ch)
}

type updateRequest struct {
	SessionID       string `json:"sessionId"`
	DetailPageUrl   string `json:"detailPageUrl"`
	CurrentPlate    string `json:"currentPlate"`
	PlateToActivate string `json:"plateToActivate"`
}

type updateResponse struct {
	Success     bool   `json:"success"`
	RedirectUrl string `json:"redirectUrl,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (s Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.tel.ReportBroken(report_encode, err)
	}
}

func (s Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateRequest
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, updateResponse{Message: "invalid request: " + err.Error()})
		return
	}
	id, ok := s.sessionID(w, body.SessionID)
	if !ok {
		return
	}

	req := permitinfo.UpdateRequest{
		DetailPageUrl:   body.DetailPageUrl,
		CurrentPlate:    body.CurrentPlate,
		PlateToActivate: body.PlateToActivate,
	}
	err = s.opts.Automation.Update(r.Context(), id, s.opts.Registry.Sink(id), req)
	if err != nil {
		s.tel.ReportWarning(report_update, err, id)
		status := http.StatusBadGateway
		var updateErr *permitinfo.UpdateError
		if errors.As(err, &updateErr) && updateErr.Reason == permitinfo.ReasonInvalid {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, updateResponse{Message: err.Error()})
		return
	}

	err = s.opts.Notifier.PlateUpdated(context.WithoutCancel(r.Context()), notify.PlateUpdate{
		PermitUrl:     req.DetailPageUrl,
		PreviousPlate: req.CurrentPlate,
		NewPlate:      req.PlateToActivate,
		At:            s.opts.Clock.Now(),
	})
	if err != nil {
		s.tel.ReportWarning(report_notify, err, id)
	}

	s.writeJSON(w, http.StatusOK, updateResponse{
		Success:     true,
		RedirectUrl: "/dashboard?sessionId=" + url.QueryEscape(id),
	})
}
