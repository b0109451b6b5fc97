package permitinfo

import (
	"context"
	"fmt"
	"net/url"
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/pkg/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	report_dashboard_read   = "dashboard.read"
	report_dashboard_row    = "dashboard.row"
	report_dashboard_enrich = "dashboard.enrich-plates"
)

func (s *Session) dashboardError(ctx context.Context, err error) error {
	s.tel.ReportBroken(report_dashboard_read, err, s.id)
	return &DashboardError{
		Err:      err,
		Snapshot: s.snapshot(ctx, s.page, "dashboard did not load"),
	}
}

// ReadDashboard reads every permit on the dashboard, the session must be
// authenticated. Rows that cannot be read are reported and dropped. Plates
// are not filled in.
func (s *Session) ReadDashboard(ctx context.Context) ([]Permit, error) {
	ctx, span := tracer.Start(ctx, "permitinfo.read-dashboard")
	defer span.End()

	s.log("reading dashboard")
	err := s.page.WaitVisible(ctx, dashboardTable, s.cfg.Timeouts.Default)
	if err != nil {
		return nil, s.dashboardError(ctx, err)
	}
	html, err := s.page.HTML(ctx)
	if err != nil {
		return nil, s.dashboardError(ctx, err)
	}
	location, err := s.page.URL(ctx)
	if err != nil {
		return nil, s.dashboardError(ctx, err)
	}
	base, err := url.Parse(location)
	if err != nil {
		return nil, s.dashboardError(ctx, err)
	}
	rows, err := parseDashboard(base, html)
	if err != nil {
		return nil, s.dashboardError(ctx, err)
	}

	permits := make([]Permit, 0, len(rows))
	for _, row := range rows {
		if row.err != nil {
			s.tel.ReportWarning(report_dashboard_row, row.err, s.id)
			droppedRowCounter.Add(ctx, 1)
			continue
		}
		permit := row.permit
		if permit.Active() && permit.DetailPageUrl == "" {
			permit.DetailPageUrl = s.waitDetailLink(ctx, base, row.index)
		}
		permits = append(permits, permit)
	}

	span.SetAttributes(
		attribute.Int("permits", len(permits)),
		attribute.Int("dropped", len(rows)-len(permits)),
	)
	s.log("found %d permits", len(permits))
	return permits, nil
}

// waitDetailLink gives the detail link of the nth row a short while to show
// up, most of the time it is missing because the permit has no detail page.
func (s *Session) waitDetailLink(ctx context.Context, base *url.URL, n int) string {
	sel := dashboardRowLink(n)
	err := s.page.WaitPresent(ctx, sel, s.cfg.Timeouts.DetailLink)
	if err != nil {
		return ""
	}
	href, ok, err := s.page.Attribute(ctx, sel, "href")
	if err != nil || !ok {
		return ""
	}
	link, ok := htmlutil.ResolveHref(base, href)
	if !ok {
		return ""
	}
	return link.String()
}

// ScrapeDashboard reads the dashboard and returns the active permits along
// with the plates that can be assigned to each, in dashboard order.
func (s *Session) ScrapeDashboard(ctx context.Context) ([]Permit, error) {
	permits, err := s.ReadDashboard(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]Permit, 0, len(permits))
	for _, p := range permits {
		if !p.Active() {
			continue
		}
		p.AvailablePlates = []Plate{}
		active = append(active, p)
	}

	s.enrichPlates(ctx, active)
	return active, nil
}

// enrichPlates fills in the plates of every permit that has a detail page,
// at most cfg.EnrichConcurrency detail pages are open at a time. A permit
// whose plates cannot be read keeps an empty list.
func (s *Session) enrichPlates(ctx context.Context, permits []Permit) {
	ctx, span := tracer.Start(ctx, "permitinfo.enrich-plates")
	defer span.End()

	var group errgroup.Group
	group.SetLimit(s.cfg.EnrichConcurrency)

	for i := range permits {
		if permits[i].DetailPageUrl == "" {
			continue
		}
		group.Go(func() error {
			plates, err := s.fetchPlates(ctx, permits[i])
			if err != nil {
				s.tel.ReportWarning(report_dashboard_enrich, err, s.id)
				s.log("could not read the plates of permit %s", permits[i].PermitNo)
				return nil
			}
			permits[i].AvailablePlates = plates
			return nil
		})
	}
	group.Wait()
}

func (s *Session) fetchPlates(ctx context.Context, permit Permit) ([]Plate, error) {
	ctx, span := tracer.Start(ctx, "permitinfo.fetch-plates", trace.WithAttributes(
		attribute.String("permit", permit.PermitNo),
	))
	defer span.End()

	fail := func(err error) ([]Plate, error) {
		span.RecordError(err)
		return nil, &EnrichmentError{PermitNo: permit.PermitNo, Err: err}
	}

	page, err := s.browser.NewPage(ctx)
	if err != nil {
		return fail(fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	err = page.Navigate(ctx, permit.DetailPageUrl)
	if err != nil {
		return fail(err)
	}
	err = s.settle(ctx, page)
	if err != nil {
		return fail(err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return fail(err)
	}
	plates, err := parsePlates(html)
	if err != nil {
		return fail(err)
	}
	return plates, nil
}

// settle waits for network quiescence, a page that never settles is still
// read and only reported.
func (s *Session) settle(ctx context.Context, page browser.Page) error {
	err := page.WaitIdle(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil {
		s.tel.ReportDebug(report_dashboard_enrich, "network did not settle", err)
	}
	return nil
}
