package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"estate_harvester/models"
)

const (
	consumptionTablePath = "ConsumptionTable"
	estateMenuPath       = "ConsumptionTableEstateMenu"
	typeCodeParam        = "typeCode"
)

// MenuReplayer re-issues a captured request and returns the response body.
type MenuReplayer interface {
	Replay(ctx context.Context, ev models.NetworkEvent) ([]byte, error)
}

// IsMultiBlock reports whether the page asked for a block menu, which only
// estates with several selectable blocks do.
func IsMultiBlock(capture *models.Capture) bool {
	for _, ev := range capture.Events {
		if ev.PathEndsWith(estateMenuPath) {
			return true
		}
	}
	return false
}

// CodesFromCapture turns a captured network log into type codes, replaying
// the block menu request when the estate has one.
func CodesFromCapture(ctx context.Context, capture *models.Capture, replayer MenuReplayer) (*models.EstateCodes, error) {
	codes := &models.EstateCodes{EstateURL: capture.PageURL, Name: capture.Title}

	if !IsMultiBlock(capture) {
		code, err := WholeEstateTypeCode(capture.Events)
		if err != nil {
			return nil, err
		}
		codes.TypeCode = code
		return codes, nil
	}

	req, err := FindMenuRequest(capture.Events)
	if err != nil {
		return nil, err
	}
	body, err := replayer.Replay(ctx, req)
	if err != nil {
		return nil, err
	}
	items, err := ParseMenuItems(body)
	if err != nil {
		return nil, err
	}
	codes.Blocks = items
	return codes, nil
}

// WholeEstateTypeCode finds the single completed ConsumptionTable response
// and returns the typeCode it was requested with.
func WholeEstateTypeCode(events []models.NetworkEvent) (string, error) {
	var matches []models.NetworkEvent
	for _, ev := range events {
		if ev.IsResponse() && ev.PathEndsWith(consumptionTablePath) {
			matches = append(matches, ev)
		}
	}

	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %d completed %s responses", models.ErrAmbiguousLog, len(matches), consumptionTablePath)
	}

	code := matches[0].Query(typeCodeParam)
	if code == "" {
		return "", fmt.Errorf("%w: no %s in %s", models.ErrUnexpectedShape, typeCodeParam, matches[0].URL)
	}
	return code, nil
}

// FindMenuRequest returns the first outbound estate menu request.
func FindMenuRequest(events []models.NetworkEvent) (models.NetworkEvent, error) {
	for _, ev := range events {
		if ev.IsRequest() && ev.PathEndsWith(estateMenuPath) {
			return ev, nil
		}
	}
	return models.NetworkEvent{}, models.ErrMenuRequestNotFound
}

type menuResponse struct {
	MenuItems []models.MenuItem `json:"menuItems"`
	Data      *struct {
		MenuItems []models.MenuItem `json:"menuItems"`
	} `json:"data"`
}

// ParseMenuItems reads the block list from an estate menu response. Items
// without a type code cannot be queried and are dropped.
func ParseMenuItems(body []byte) ([]models.MenuItem, error) {
	var resp menuResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: estate menu: %v", models.ErrUnexpectedShape, err)
	}

	raw := resp.MenuItems
	if resp.Data != nil && len(resp.Data.MenuItems) > 0 {
		raw = resp.Data.MenuItems
	}

	items := make([]models.MenuItem, 0, len(raw))
	for _, it := range raw {
		if it.TypeCode == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
