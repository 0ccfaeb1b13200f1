package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"

	"go.uber.org/zap"
)

var (
	httpClient    = &http.Client{Timeout: 60 * time.Second}
	versionSuffix = regexp.MustCompile(`v\d+$`)
)

// Fetcher kapselt die Kommunikation mit der arXiv-Such-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt eine neue Instanz des arXiv-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// Query baut die Suchanfrage für eine Kategorie und einen inklusiven Datumsbereich.
func Query(category string, from, to time.Time) string {
	return fmt.Sprintf("cat:%s AND submittedDate:[%s0000 TO %s2359]",
		category, from.Format("20060102"), to.Format("20060102"))
}

// Count fragt nur die Gesamtzahl der Treffer ab (max_results=1).
func (f *Fetcher) Count(ctx context.Context, query string) (int, error) {
	feed, err := f.fetch(ctx, query, 0, 1)
	if err != nil {
		return 0, err
	}
	return feed.TotalResults, nil
}

// FetchPage holt eine Seite von Einträgen ab Offset start.
func (f *Fetcher) FetchPage(ctx context.Context, query string, start, limit int) ([]Entry, error) {
	feed, err := f.fetch(ctx, query, start, limit)
	if err != nil {
		return nil, err
	}
	return feed.Entries, nil
}

func (f *Fetcher) fetch(ctx context.Context, query string, start, limit int) (*Feed, error) {
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", strconv.Itoa(start))
	params.Set("max_results", strconv.Itoa(limit))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	reqURL := f.Config.ArxivBaseURL + "?" + params.Encode()

	log := f.Logger.With(zap.String("query", query), zap.Int("start", start), zap.Int("max_results", limit))
	log.Debug("Calling arXiv API", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Warn("arXiv API returned non-200 status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("arxiv request failed with status: %d", resp.StatusCode)
	}

	var feed Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}
	return &feed, nil
}

// NormalizeEntry macht aus einem Feed-Eintrag ein Paper: Versions-Suffix entfernen,
// PDF-Link aus der nackten ID ableiten, Titel trimmen.
func (f *Fetcher) NormalizeEntry(e Entry, category string) (models.Paper, error) {
	id := BareID(e.ID)
	if id == "" {
		return models.Paper{}, fmt.Errorf("entry without identifier")
	}
	published, err := publishedDate(e.Published)
	if err != nil {
		return models.Paper{}, fmt.Errorf("entry %s: %w", id, err)
	}
	return models.Paper{
		ArxivID:       id,
		Category:      category,
		Title:         strings.Join(strings.Fields(e.Title), " "),
		PDFLink:       strings.TrimRight(f.Config.ArxivPDFBaseURL, "/") + "/" + id,
		PublishedDate: published,
	}, nil
}

// BareID liefert die arXiv-ID ohne Versions-Suffix, z.B.
// "http://arxiv.org/abs/2401.01234v2" -> "2401.01234" und
// "http://arxiv.org/abs/cs/0101001v1" -> "cs/0101001".
func BareID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "/abs/"); i >= 0 {
		raw = raw[i+len("/abs/"):]
	} else if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return versionSuffix.ReplaceAllString(strings.Trim(raw, "/"), "")
}

func publishedDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", fmt.Errorf("invalid published timestamp %q: %w", raw, err)
	}
	return t.UTC().Format(models.DateLayout), nil
}
