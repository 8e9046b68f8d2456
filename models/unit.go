package models

// Unit is a single flat in a consumption table. Cuntcode is the key the
// transaction search endpoint expects; it is empty for units the site did not
// expose one for.
type Unit struct {
	Property string `json:"property"`
	Block    string `json:"block"`
	Floor    string `json:"floor"`
	Unit     string `json:"unit"`
	Cuntcode string `json:"cuntcode"`
	URL      string `json:"url"`
}

var UnitColumns = []string{"property", "block", "floor", "unit", "cuntcode", "url"}

func (u Unit) Row() []string {
	return []string{u.Property, u.Block, u.Floor, u.Unit, u.Cuntcode, u.URL}
}

func (u Unit) HasCuntcode() bool {
	return u.Cuntcode != ""
}
