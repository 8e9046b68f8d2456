package models

import (
	"net/url"
	"strings"
)

// Phases follow the Chrome DevTools performance log naming so that recorded
// logs from either browser driver look the same.
const (
	EventRequestWillBeSent = "Network.requestWillBeSent"
	EventResponseReceived  = "Network.responseReceived"
)

// NetworkEvent is one entry of a captured browser network log.
type NetworkEvent struct {
	Method     string            `json:"method"`
	RequestID  string            `json:"requestId"`
	URL        string            `json:"url"`
	HTTPMethod string            `json:"httpMethod,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Status     int               `json:"status,omitempty"`
}

func (e NetworkEvent) IsRequest() bool {
	return e.Method == EventRequestWillBeSent
}

func (e NetworkEvent) IsResponse() bool {
	return e.Method == EventResponseReceived
}

// Path returns the URL path, or the raw URL when it does not parse.
func (e NetworkEvent) Path() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return e.URL
	}
	return u.Path
}

// PathEndsWith reports whether the last path segment equals name.
func (e NetworkEvent) PathEndsWith(name string) bool {
	p := strings.TrimSuffix(e.Path(), "/")
	return strings.EqualFold(p[strings.LastIndex(p, "/")+1:], name)
}

// Query returns a query parameter of the event URL.
func (e NetworkEvent) Query(key string) string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// Capture is everything an extractor hands back for one page visit.
type Capture struct {
	PageURL string         `json:"pageUrl"`
	Title   string         `json:"title,omitempty"`
	HTML    string         `json:"html,omitempty"`
	Events  []NetworkEvent `json:"events"`
}
