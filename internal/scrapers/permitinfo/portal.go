package permitinfo

import (
	"fmt"
	"permitinfo-backend/internal/browser"
	"strings"
)

// DefaultBaseUrl is the only portal this package knows how to talk to.
const DefaultBaseUrl = "https://columbus.permitinfo.net"

// everything below is coupled to the portal's current markup.

// portal root, the portal serves the same page under both paths
var rootPaths = []string{"/", "/index.aspx"}

const (
	loginLink     = "#Menu1_LoginLink"
	usernameField = `input[name="ctl00$MainContent$txtUsername"]`
	passwordField = `input[name="ctl00$MainContent$txtPassword"]`
	loginButton   = `input[name="ctl00$MainContent$btnLogin"]`

	dashboardTable = "#MainContent_gvPermits"
	dashboardRows  = "#MainContent_gvPermits tr:has(td)"

	platesTable = "#MainContent_gvPlates"
	plateRows   = "#MainContent_gvPlates tr:has(td)"

	// rows of the plates grid get this class when the plate is the assigned
	// one, the same marker shows up in the partial page the portal answers
	// with after a plate was toggled on
	selectedMarker = "selected"
	selectedToggle = `#MainContent_gvPlates tr.selected input[type="checkbox"]`

	updateButton = `input[value="Update Permit"]`
)

// dashboard columns, in order
const (
	colPermitNo = iota
	colStatus
	colDescription
	colValidFrom
	colValidTo
	colHolder
	colVehicle
	dashboardColumns
)

// plate grid columns, the first one holds the toggle checkbox
const (
	colPlateToggle = iota
	colPlate
	colPlateName
	plateColumns
)

var (
	loginResponse = browser.ResponseMatcher{
		Name:         "login post",
		PathContains: "index.aspx",
		Method:       "POST",
	}
	// the deactivate postback only has to succeed, what it renders is not checked
	deactivateResponse = browser.ResponseMatcher{
		Name:         "deactivate postback",
		PathContains: "index.aspx",
		Status:       200,
	}
	activateResponse = browser.ResponseMatcher{
		Name:         "activate postback",
		PathContains: "index.aspx",
		BodyContains: selectedMarker,
	}
	confirmNavigation = browser.ResponseMatcher{
		Name:     "navigation back to the portal root",
		PathIn:   rootPaths,
		Document: true,
	}
)

// xpathLiteral quotes `s` as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(quoted, `, '"', `) + ")"
}

// dashboardRowLink is the detail link of the nth (1-based) data row.
func dashboardRowLink(n int) string {
	return fmt.Sprintf(`(//table[@id="MainContent_gvPermits"]//tr[td])[%d]//a[@href]`, n)
}

// plateToggle is the toggle of the plate row labeled `plate`.
func plateToggle(plate string) string {
	return fmt.Sprintf(
		`//table[@id="MainContent_gvPlates"]//tr[td[normalize-space()=%s]]//input[@type="checkbox"]`,
		xpathLiteral(strings.TrimSpace(plate)),
	)
}
