package permitinfo

import (
	"errors"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func dashboardBase(t *testing.T) *url.URL {
	base, err := url.Parse(testBaseUrl + "/index.aspx")
	require.NoError(t, err)
	return base
}

func TestParseDashboard(t *testing.T) {
	rows, err := parseDashboard(dashboardBase(t), readFixture(t, "dashboard.html"))
	require.NoError(t, err)

	var permits []Permit
	for _, row := range rows {
		require.NoError(t, row.err)
		permits = append(permits, row.permit)
	}

	expected := []Permit{
		{
			PermitNo:      "RP-10442",
			Status:        StatusActive,
			Description:   "Residential Permit - Area 3",
			ValidFrom:     "01/01/2024",
			ValidTo:       "12/31/2024",
			Holder:        "JORDAN SMITH",
			Vehicle:       "2019 Honda Civic (ABC123)",
			DetailPageUrl: testBaseUrl + "/Secure/PermitDetail.aspx?id=10442",
		},
		{
			PermitNo:      "RP-09120",
			Status:        StatusExpired,
			Description:   "Residential Permit - Area 3",
			ValidFrom:     "01/01/2023",
			ValidTo:       "12/31/2023",
			Holder:        "JORDAN SMITH",
			Vehicle:       "2015 Ford Focus (QRS555)",
			DetailPageUrl: testBaseUrl + "/Secure/PermitDetail.aspx?id=9120",
		},
		{
			PermitNo:      "VP-20001",
			Status:        StatusActive,
			Description:   "Visitor Permit",
			ValidFrom:     "03/01/2024",
			ValidTo:       "03/31/2024",
			Holder:        "JORDAN SMITH",
			Vehicle:       "2021 Toyota Corolla (LMN456)",
			DetailPageUrl: testBaseUrl + "/Secure/PermitDetail.aspx?id=20001",
		},
	}
	if diff := cmp.Diff(expected, permits); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseDashboardBrokenRows(t *testing.T) {
	rows, err := parseDashboard(dashboardBase(t), readFixture(t, "dashboard_partial.html"))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	require.NoError(t, rows[0].err)
	require.Equal(t, "RP-10442", rows[0].permit.PermitNo)
	require.Empty(t, rows[0].permit.DetailPageUrl)

	// free text statuses are kept, javascript links are not detail pages
	require.NoError(t, rows[1].err)
	require.Equal(t, Status("Pending Review"), rows[1].permit.Status)
	require.Empty(t, rows[1].permit.DetailPageUrl)

	cases := []struct {
		row   dashboardRow
		index int
		field string
	}{
		{row: rows[2], index: 3, field: "cells"},
		{row: rows[3], index: 4, field: "permit_no"},
	}
	for _, test := range cases {
		var fieldErr *ScrapeFieldError
		require.True(t, errors.As(test.row.err, &fieldErr), "row %d: %v", test.index, test.row.err)
		require.Equal(t, test.index, fieldErr.Row)
		require.Equal(t, test.field, fieldErr.Field)
		require.Equal(t, test.index, test.row.index)
	}
}

func TestParseDashboardMissingGrid(t *testing.T) {
	_, err := parseDashboard(dashboardBase(t), "<html><body><h1>Session expired</h1></body></html>")
	require.ErrorIs(t, err, errNoDashboard)
}

func TestParsePlates(t *testing.T) {
	plates, err := parsePlates(readFixture(t, "detail.html"))
	require.NoError(t, err)

	expected := []Plate{
		{Plate: "ABC123", Name: "2019 Honda Civic", Selected: true},
		{Plate: "XYZ789", Name: "2022 Subaru Outback"},
	}
	if diff := cmp.Diff(expected, plates); diff != "" {
		t.Fatal(diff)
	}

	_, err = parsePlates("<html><body></body></html>")
	require.ErrorIs(t, err, errNoPlatesTable)

	plates, err = parsePlates(`<table id="MainContent_gvPlates"><tr><th>Plate</th></tr></table>`)
	require.NoError(t, err)
	require.NotNil(t, plates)
	require.Empty(t, plates)
}

func TestXPathLiteral(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{in: "XYZ789", expected: `"XYZ789"`},
		{in: `A"B`, expected: `'A"B'`},
		{in: `A"B'C`, expected: `concat("A", '"', "B'C")`},
	}
	for _, test := range cases {
		require.Equal(t, test.expected, xpathLiteral(test.in))
	}
}

func TestPlateToggle(t *testing.T) {
	require.Equal(
		t,
		`//table[@id="MainContent_gvPlates"]//tr[td[normalize-space()="XYZ789"]]//input[@type="checkbox"]`,
		plateToggle("  XYZ789 "),
	)
	require.Equal(
		t,
		`(//table[@id="MainContent_gvPermits"]//tr[td])[2]//a[@href]`,
		dashboardRowLink(2),
	)
}

func TestClosestPlate(t *testing.T) {
	labels := []string{"ABC123", "XYZ789"}
	cases := []struct {
		plate    string
		expected string
	}{
		{plate: "XYZ78", expected: "XYZ789"},
		{plate: "xyz 789", expected: "XYZ789"},
		{plate: "ABC124", expected: "ABC123"},
		{plate: "QQQQQQ", expected: ""},
	}
	for _, test := range cases {
		require.Equal(t, test.expected, closestPlate(test.plate, labels), test.plate)
	}
	require.Equal(t, "", closestPlate("XYZ789", nil))
}
