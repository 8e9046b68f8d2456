package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"

	"estate_harvester/config"
)

type Clients struct {
	Site *resty.Client // replays the site's internal API
}

// NewClients builds the HTTP clients. proxyURL is optional.
func NewClients(site *config.SiteConfig, proxyURL string) *Clients {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", site.UserAgent).
		SetHeader("Accept", "application/json, text/plain, */*")

	for k, v := range site.Headers {
		client.SetHeader(k, v)
	}
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}

	return &Clients{Site: client}
}
