package models

// Estate is one row of the estates spreadsheet.
type Estate struct {
	Name string
	URL  string
}

// MenuItem is a selectable block inside an estate.
type MenuItem struct {
	Name     string `json:"name"`
	TypeCode string `json:"typeCode"`
}

// EstateCodes is what a code source resolves an estate page to: a single
// type code for the whole estate, or one type code per block.
type EstateCodes struct {
	EstateURL string
	Name      string
	TypeCode  string
	Blocks    []MenuItem
}

func (c *EstateCodes) MultiBlock() bool {
	return len(c.Blocks) > 0
}
