package services

import (
	"net/http"
	"time"
)

const userAgent = "arxiv-stars/1.0 (paper star tracker)"

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// httpClient wird für den Dokument-Download verwendet.
var httpClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}
