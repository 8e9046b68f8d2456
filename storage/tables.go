package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"estate_harvester/models"
)

// WriteUnits writes a unit table with the standard header.
func WriteUnits(path string, units []models.Unit) error {
	rows := make([][]string, len(units))
	for i, u := range units {
		rows[i] = u.Row()
	}
	return WriteCSV(path, models.UnitColumns, rows)
}

func WriteCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeCSVFile(f, header, rows); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeCSVFile(f *os.File, header []string, rows [][]string) error {
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadUnits loads a unit table. Columns are matched by header name, so an
// extra leading index column is tolerated.
func ReadUnits(path string) ([]models.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := headerIndex(records[0])
	if _, ok := col["cuntcode"]; !ok {
		return nil, fmt.Errorf("%s: missing cuntcode column", path)
	}

	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	units := make([]models.Unit, 0, len(records)-1)
	for _, row := range records[1:] {
		units = append(units, models.Unit{
			Property: get(row, "property"),
			Block:    get(row, "block"),
			Floor:    get(row, "floor"),
			Unit:     get(row, "unit"),
			Cuntcode: get(row, "cuntcode"),
			URL:      get(row, "url"),
		})
	}
	return units, nil
}

// ReadEstates loads the estate list from a spreadsheet (.xlsx) or CSV. The
// URL comes from the "Data Source" column and the optional name from
// "Development". Rows without a URL are skipped.
func ReadEstates(path string) ([]models.Estate, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readSheet(path)
	default:
		rows, err = readCSVRows(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := headerIndex(rows[0])
	urlCol, ok := col["data source"]
	if !ok {
		return nil, fmt.Errorf("%s: missing \"Data Source\" column", path)
	}
	nameCol, hasName := col["development"]

	var estates []models.Estate
	for _, row := range rows[1:] {
		if urlCol >= len(row) || strings.TrimSpace(row[urlCol]) == "" {
			continue
		}
		e := models.Estate{URL: strings.TrimSpace(row[urlCol])}
		if hasName && nameCol < len(row) {
			e.Name = strings.TrimSpace(row[nameCol])
		}
		estates = append(estates, e)
	}
	return estates, nil
}

func readSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func headerIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := col[key]; !dup {
			col[key] = i
		}
	}
	return col
}
