package permitinfo

// Status is the permit status column verbatim, the portal may show values
// other than the three known ones.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusExpired  Status = "Expired"
)

type Permit struct {
	PermitNo    string
	Status      Status
	Description string
	// ValidFrom and ValidTo are kept exactly as the portal renders them.
	ValidFrom string
	ValidTo   string
	Holder    string
	Vehicle   string
	// DetailPageUrl is absolute, empty when the permit has no detail view.
	DetailPageUrl string
	// AvailablePlates is only filled in for active permits with a detail page.
	AvailablePlates []Plate
}

func (p Permit) Active() bool {
	return p.Status == StatusActive
}

type Plate struct {
	Plate string
	Name  string
	// Selected is true when the plate is the one currently assigned to the permit.
	Selected bool
}

type Credentials struct {
	Username string
	Password string
}

// UpdateRequest swaps CurrentPlate for PlateToActivate on the permit behind
// DetailPageUrl.
type UpdateRequest struct {
	DetailPageUrl   string
	CurrentPlate    string
	PlateToActivate string
}
