package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"estate_harvester/config"
	"estate_harvester/models"
)

// APIClient calls the site's internal JSON API directly, using parameters
// recovered from the browser.
type APIClient struct {
	site   *config.SiteConfig
	client *resty.Client
}

func NewAPIClient(site *config.SiteConfig, client *resty.Client) *APIClient {
	return &APIClient{site: site, client: client}
}

// ConsumptionTable fetches the floor/unit table for one type code.
func (c *APIClient) ConsumptionTable(ctx context.Context, estateURL, typeCode string) ([]byte, error) {
	endpoint := c.site.Endpoints[config.EndpointConsumptionTable]

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Referer", estateURL).
		SetQueryParams(map[string]string{
			"typeCode": typeCode,
			"postType": c.site.PostType,
		}).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("consumption table %s: %w", typeCode, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("consumption table %s: status %d: %s", typeCode, resp.StatusCode(), truncate(resp.String(), 200))
	}

	return resp.Body(), nil
}

// Replay re-issues a captured browser request with the same URL and headers.
func (c *APIClient) Replay(ctx context.Context, ev models.NetworkEvent) ([]byte, error) {
	req := c.client.R().SetContext(ctx)
	for k, v := range ev.Headers {
		if skipReplayHeader(k) {
			continue
		}
		req.SetHeader(k, v)
	}

	method := ev.HTTPMethod
	if method == "" {
		method = resty.MethodGet
	}

	resp, err := req.Execute(method, ev.URL)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", ev.URL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("replay %s: status %d", ev.URL, resp.StatusCode())
	}

	return resp.Body(), nil
}

// SearchTransactions posts one cuntcode to the transaction search endpoint.
// The body is returned whatever the status code: rate limiting is signalled
// inside the JSON payload, and the caller decides.
func (c *APIClient) SearchTransactions(ctx context.Context, cuntcode, estateURL string) ([]byte, error) {
	endpoint := c.site.Endpoints[config.EndpointTransactionSearch]

	body, err := json.Marshal(map[string][]string{"cuntcodes": {cuntcode}})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Referer", estateURL).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transaction search %s: %w", cuntcode, err)
	}

	return resp.Body(), nil
}

// Pseudo-headers and transport-managed headers cannot be replayed as-is.
// Accept-Encoding is left to the transport so responses get decompressed.
func skipReplayHeader(name string) bool {
	if strings.HasPrefix(name, ":") {
		return true
	}
	switch strings.ToLower(name) {
	case "host", "content-length", "connection", "accept-encoding":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
