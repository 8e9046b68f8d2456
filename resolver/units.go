package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"estate_harvester/models"
)

// TableFetcher fetches the consumption table for a type code.
type TableFetcher interface {
	ConsumptionTable(ctx context.Context, estateURL, typeCode string) ([]byte, error)
}

/*
Consumption table response, as consumed here:

	{
	  "data": {
	    "estateName": "Taikoo Shing",
	    "buildingName": "Block 1",
	    "floors": [
	      {"yAxis": "12", "units": [{"xAxis": "A", "cuntcode": "ABCD1234"}, {"xAxis": "B"}]}
	    ]
	  }
	}

The "data" wrapper is optional. A unit with no cuntcode (missing, null or
empty) cannot be searched and is routed to the manual gather list.
*/
type consumptionTable struct {
	EstateName   string           `json:"estateName"`
	BuildingName string           `json:"buildingName"`
	Floors       []consumptionRow `json:"floors"`
}

type consumptionRow struct {
	YAxis axisLabel `json:"yAxis"`
	Units []struct {
		XAxis    axisLabel `json:"xAxis"`
		Cuntcode *string   `json:"cuntcode"`
	} `json:"units"`
}

// axisLabel is a floor or unit label. The site usually sends strings but
// bare numbers ("yAxis": 12) are accepted too.
type axisLabel string

func (l *axisLabel) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		*l = ""
		return nil
	}
	*l = axisLabel(fmt.Sprint(v))
	return nil
}

// ParseConsumptionTable splits a table into searchable units and missed
// units. property and block are used when the table does not name them.
func ParseConsumptionTable(body []byte, property, block, estateURL string) (units, missed []models.Unit, err error) {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, nil, fmt.Errorf("%w: consumption table: %v", models.ErrUnexpectedShape, err)
	}
	payload := body
	if len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		payload = wrapped.Data
	}

	var table consumptionTable
	if err := json.Unmarshal(payload, &table); err != nil {
		return nil, nil, fmt.Errorf("%w: consumption table: %v", models.ErrUnexpectedShape, err)
	}

	if table.EstateName != "" {
		property = table.EstateName
	}
	if table.BuildingName != "" {
		block = table.BuildingName
	}

	for _, floor := range table.Floors {
		for _, u := range floor.Units {
			unit := models.Unit{
				Property: property,
				Block:    block,
				Floor:    string(floor.YAxis),
				Unit:     string(u.XAxis),
				URL:      estateURL,
			}
			if u.Cuntcode != nil {
				unit.Cuntcode = *u.Cuntcode
			}

			if unit.HasCuntcode() {
				units = append(units, unit)
			} else {
				missed = append(missed, unit)
			}
		}
	}

	return units, missed, nil
}

// Result is the outcome of resolving a list of estates.
type Result struct {
	Units  []models.Unit
	Missed []models.Unit
	Failed map[string]error
}

type Resolver struct {
	source CodeSource
	tables TableFetcher
	logger *zap.Logger
}

func New(source CodeSource, tables TableFetcher, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, tables: tables, logger: logger.Named("resolver")}
}

// ResolveEstate enumerates every unit of one estate.
func (r *Resolver) ResolveEstate(ctx context.Context, estate models.Estate) (units, missed []models.Unit, err error) {
	codes, err := r.source.Resolve(ctx, estate.URL)
	if err != nil {
		return nil, nil, err
	}

	name := estate.Name
	if name == "" {
		name = codes.Name
	}

	targets := codes.Blocks
	if !codes.MultiBlock() {
		targets = []models.MenuItem{{TypeCode: codes.TypeCode}}
	}

	for _, target := range targets {
		body, err := r.tables.ConsumptionTable(ctx, estate.URL, target.TypeCode)
		if err != nil {
			return nil, nil, err
		}

		u, m, err := ParseConsumptionTable(body, name, target.Name, estate.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("type code %s: %w", target.TypeCode, err)
		}

		for _, unit := range m {
			r.logger.Warn("unit has no cuntcode, routing to manual gather",
				zap.String("property", unit.Property),
				zap.String("block", unit.Block),
				zap.String("floor", unit.Floor),
				zap.String("unit", unit.Unit))
		}

		r.logger.Info("consumption table resolved",
			zap.String("estate", estate.URL),
			zap.String("type_code", target.TypeCode),
			zap.Int("units", len(u)),
			zap.Int("missed", len(m)))

		units = append(units, u...)
		missed = append(missed, m...)
	}

	return units, missed, nil
}

// ResolveAll resolves estates in order. A failing estate is logged, recorded
// in Result.Failed and skipped.
func (r *Resolver) ResolveAll(ctx context.Context, estates []models.Estate) *Result {
	result := &Result{Failed: make(map[string]error)}

	for i, estate := range estates {
		if ctx.Err() != nil {
			result.Failed[estate.URL] = ctx.Err()
			continue
		}

		r.logger.Info("resolving estate", zap.Int("n", i+1), zap.Int("of", len(estates)), zap.String("url", estate.URL))
		units, missed, err := r.ResolveEstate(ctx, estate)
		if err != nil {
			r.logger.Error("estate failed", zap.String("url", estate.URL), zap.Error(err))
			result.Failed[estate.URL] = err
			continue
		}

		result.Units = append(result.Units, units...)
		result.Missed = append(result.Missed, missed...)
	}

	return result
}
