package permitinfo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const report_update_plate = "update.plate"

// below this, the closest plate is too different to be worth suggesting
const suggestionThreshold = 0.7

func (s *Session) validate(req UpdateRequest) error {
	if strings.TrimSpace(req.PlateToActivate) == "" {
		return errors.New("no plate to activate")
	}
	detail, err := url.Parse(req.DetailPageUrl)
	if err != nil {
		return fmt.Errorf("detail page url: %w", err)
	}
	base, err := s.baseUrl()
	if err != nil {
		return err
	}
	if !detail.IsAbs() || !strings.EqualFold(detail.Host, base.Host) {
		return fmt.Errorf("detail page %q is not on %s", req.DetailPageUrl, base.Host)
	}
	return nil
}

// UpdatePlate logs in and makes PlateToActivate the active plate of the permit
// behind DetailPageUrl. The steps run strictly in order and each one waits for
// the portal to answer before the next one starts:
//
//  1. log in
//  2. open the detail page
//  3. deactivate the plate that is currently selected, if there is one
//  4. activate the requested plate
//  5. confirm with "Update Permit" and wait to be sent back to the portal root
//
// A nil error means every expected response was observed, the permit is not
// read back. Failures are *UpdateError.
func (s *Session) UpdatePlate(ctx context.Context, req UpdateRequest) error {
	ctx, span := tracer.Start(ctx, "permitinfo.update-plate")
	defer span.End()

	result := "success"
	err := s.updatePlate(ctx, req)
	if err != nil {
		result = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.tel.ReportWarning(report_update_plate, err, s.id)
		s.log("update failed: %s", err)
	}
	updateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return err
}

func (s *Session) updatePlate(ctx context.Context, req UpdateRequest) error {
	err := s.validate(req)
	if err != nil {
		return &UpdateError{Step: StepNavigate, Reason: ReasonInvalid, Err: err}
	}

	err = s.Authenticate(ctx, s.cfg.Credentials)
	if err != nil {
		return s.fail(ctx, StepAuthenticate, err)
	}

	s.log("opening permit detail page")
	err = s.page.Navigate(ctx, req.DetailPageUrl)
	if err == nil {
		err = s.page.WaitIdle(ctx)
	}
	if err != nil {
		return s.fail(ctx, StepNavigate, err)
	}

	err = s.deactivate(ctx, req.CurrentPlate)
	if err != nil {
		return s.fail(ctx, StepDeactivate, err)
	}
	err = s.activate(ctx, req.PlateToActivate)
	if err != nil {
		return s.fail(ctx, StepActivate, err)
	}
	err = s.confirm(ctx)
	if err != nil {
		return s.fail(ctx, StepConfirm, err)
	}

	s.log("plate %s is now active", req.PlateToActivate)
	return nil
}

func (s *Session) fail(ctx context.Context, step Step, err error) error {
	var updateErr *UpdateError
	if !errors.As(err, &updateErr) {
		updateErr = newUpdateError(step, err)
	}
	if updateErr.Snapshot == nil {
		updateErr.Snapshot = s.snapshot(ctx, s.page, fmt.Sprintf("%s failed", step))
	}
	return updateErr
}

// deactivate unchecks whatever plate is selected, nothing selected is not an error.
func (s *Session) deactivate(ctx context.Context, current string) error {
	exists, err := s.page.Exists(ctx, selectedToggle)
	if err != nil {
		return err
	}
	if !exists {
		s.log("no plate is active, nothing to deactivate")
		return nil
	}

	if current != "" {
		s.log("deactivating %s", current)
	} else {
		s.log("deactivating the active plate")
	}
	_, err = s.page.WaitResponse(ctx, deactivateResponse, func(ctx context.Context) error {
		return s.page.Click(ctx, selectedToggle)
	})
	if err != nil {
		return err
	}
	return s.page.WaitIdle(ctx)
}

// activate checks `plate`, the portal has to answer with a page that marks a
// plate as selected.
func (s *Session) activate(ctx context.Context, plate string) error {
	toggle := plateToggle(plate)
	exists, err := s.page.Exists(ctx, toggle)
	if err != nil {
		return err
	}
	if !exists {
		return &UpdateError{
			Step:       StepActivate,
			Reason:     ReasonNotFound,
			Err:        fmt.Errorf("plate %q is not listed on the permit", plate),
			Suggestion: s.suggestPlate(ctx, plate),
		}
	}

	s.log("activating %s", plate)
	_, err = s.page.WaitResponse(ctx, activateResponse, func(ctx context.Context) error {
		return s.page.Click(ctx, toggle)
	})
	return err
}

func (s *Session) confirm(ctx context.Context) error {
	s.log("confirming update")
	_, err := s.page.WaitResponse(ctx, confirmNavigation, func(ctx context.Context) error {
		return s.page.Click(ctx, updateButton)
	})
	if err != nil {
		return err
	}
	return s.page.WaitIdle(ctx)
}

func (s *Session) suggestPlate(ctx context.Context, plate string) string {
	html, err := s.page.HTML(ctx)
	if err != nil {
		return ""
	}
	return closestPlate(plate, plateLabels(html))
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

// closestPlate returns the label most similar to `plate`, or nothing if none
// of them come close.
func closestPlate(plate string, labels []string) string {
	target := normalizePlate(plate)
	best := ""
	var bestScore float64
	for _, label := range labels {
		score := matchr.JaroWinkler(target, normalizePlate(label), false)
		if score > bestScore {
			best = label
			bestScore = score
		}
	}
	if bestScore < suggestionThreshold {
		return ""
	}
	return best
}
