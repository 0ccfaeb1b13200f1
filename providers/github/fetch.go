package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arxiv-stars/config"

	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

var (
	// ErrUnavailable bedeutet, dass für das Repository heute kein Sternestand ermittelt werden kann.
	ErrUnavailable = errors.New("repository unavailable")
	// ErrInvalidRepoURL wird ohne Netzwerkzugriff für URLs ohne owner/repo geliefert.
	ErrInvalidRepoURL = fmt.Errorf("%w: invalid repository url", ErrUnavailable)
)

// Fetcher kapselt die Logik für die GitHub-Repository-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen GitHub-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// ParseRepoURL zerlegt eine Repository-URL in owner und repo.
func ParseRepoURL(repoURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRepoURL, err)
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoURL, repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Stars holt den aktuellen Sternestand eines Repositories.
// Alle Fehler wickeln ErrUnavailable ein.
func (f *Fetcher) Stars(ctx context.Context, repoURL string) (int, error) {
	log := f.Logger.With(zap.String("repo_url", repoURL))

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		log.Warn("Malformed repository URL, skipping.", zap.Error(err))
		return 0, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s", strings.TrimRight(f.Config.GitHubAPIBaseURL, "/"),
		url.PathEscape(owner), url.PathEscape(repo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if f.Config.GitHubToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.Config.GitHubToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Warn("GitHub request failed", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	f.logRateLimit(log, resp)

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		log.Warn("GitHub API returned non-200 status",
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return 0, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, apiErr.Message)
	}

	var r Repository
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		log.Warn("Could not decode GitHub response", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Debug("Fetched star count", zap.Int("stars", r.StargazersCount))
	return r.StargazersCount, nil
}

// logRateLimit meldet ein erschöpftes Kontingent samt Reset-Zeitpunkt.
func (f *Fetcher) logRateLimit(log *zap.Logger, resp *http.Response) {
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return
	}
	fields := []zap.Field{zap.Bool("authenticated", f.Config.GitHubToken != "")}
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		fields = append(fields, zap.Time("reset_at", time.Unix(reset, 0)))
	}
	log.Warn("GitHub rate limit exhausted", fields...)
}
