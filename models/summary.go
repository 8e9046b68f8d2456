package models

// SummaryColumn maps a transaction record field to its summary label.
type SummaryColumn struct {
	Field string
	Label string
}

var SummaryColumns = []SummaryColumn{
	{Field: "estateName", Label: "Development"},
	{Field: "buildingName", Label: "Block"},
	{Field: "yAxis", Label: "Floor"},
	{Field: "xAxis", Label: "Units"},
	{Field: "transactionPrice", Label: "Price"},
	{Field: "regDate", Label: "regDate"},
	{Field: "insDate", Label: "insDate"},
}

func SummaryHeader() []string {
	header := make([]string, len(SummaryColumns))
	for i, c := range SummaryColumns {
		header[i] = c.Label
	}
	return header
}
