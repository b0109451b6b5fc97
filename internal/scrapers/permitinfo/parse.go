package permitinfo

import (
	"errors"
	"fmt"
	"net/url"
	"permitinfo-backend/pkg/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	errEmptyField    = errors.New("empty")
	errNoDashboard   = errors.New("permit grid not found")
	errNoPlatesTable = errors.New("plate grid not found")
)

type dashboardRow struct {
	// index is 1-based, it is what dashboardRowLink expects
	index  int
	permit Permit
	err    error
}

// parseDashboard reads every data row of the permit grid, rows that cannot be
// read carry a *ScrapeFieldError instead of a permit.
func parseDashboard(base *url.URL, html string) ([]dashboardRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if doc.Find(dashboardTable).Length() == 0 {
		return nil, errNoDashboard
	}

	var rows []dashboardRow
	doc.Find(dashboardRows).Each(func(i int, row *goquery.Selection) {
		permit, err := parseDashboardRow(base, i+1, row)
		rows = append(rows, dashboardRow{
			index:  i + 1,
			permit: permit,
			err:    err,
		})
	})
	return rows, nil
}

func parseDashboardRow(base *url.URL, index int, row *goquery.Selection) (Permit, error) {
	cells := row.ChildrenFiltered("td")
	if cells.Length() < dashboardColumns {
		return Permit{}, &ScrapeFieldError{
			Row:   index,
			Field: "cells",
			Err:   fmt.Errorf("expected %d, got %d", dashboardColumns, cells.Length()),
		}
	}
	cell := func(col int) string {
		return htmlutil.SelectionText(cells.Eq(col))
	}

	permit := Permit{
		PermitNo:    cell(colPermitNo),
		Status:      Status(cell(colStatus)),
		Description: cell(colDescription),
		ValidFrom:   cell(colValidFrom),
		ValidTo:     cell(colValidTo),
		Holder:      cell(colHolder),
		Vehicle:     cell(colVehicle),
	}
	if permit.PermitNo == "" {
		return Permit{}, &ScrapeFieldError{Row: index, Field: "permit_no", Err: errEmptyField}
	}
	if permit.Status == "" {
		return Permit{}, &ScrapeFieldError{Row: index, Field: "status", Err: errEmptyField}
	}

	anchors := htmlutil.GetAnchors(base, row.Find("a[href]"))
	if len(anchors) > 0 {
		permit.DetailPageUrl = anchors[0].Url.String()
	}
	return permit, nil
}

// parsePlates reads the plate grid of a permit detail page. Rows without a
// plate (pager rows, spacer rows) are skipped.
func parsePlates(html string) ([]Plate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	if doc.Find(platesTable).Length() == 0 {
		return nil, errNoPlatesTable
	}

	plates := []Plate{}
	doc.Find(plateRows).Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < plateColumns {
			return
		}
		plate := htmlutil.SelectionText(cells.Eq(colPlate))
		if plate == "" {
			return
		}
		plates = append(plates, Plate{
			Plate:    plate,
			Name:     htmlutil.SelectionText(cells.Eq(colPlateName)),
			Selected: row.HasClass(selectedMarker),
		})
	})
	return plates, nil
}

// plateLabels returns the plate of every row in the plate grid.
func plateLabels(html string) []string {
	plates, err := parsePlates(html)
	if err != nil {
		return nil
	}
	labels := make([]string, len(plates))
	for i, p := range plates {
		labels[i] = p.Plate
	}
	return labels
}
