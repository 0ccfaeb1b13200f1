package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError ist eine Fehlerantwort eines Generative-Text-Providers.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsUnavailable meldet, ob err die vorübergehende Überlastung des Providers (503) signalisiert.
// Nur dieser Fall wird vom Resolver wiederholt.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusServiceUnavailable || strings.EqualFold(apiErr.Status, "UNAVAILABLE")
}
