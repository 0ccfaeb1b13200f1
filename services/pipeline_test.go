package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"
	"arxiv-stars/providers"
	"arxiv-stars/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
  <title>arXiv Query</title>
  <opensearch:totalResults>3</opensearch:totalResults>
  <opensearch:startIndex>0</opensearch:startIndex>
  <opensearch:itemsPerPage>3</opensearch:itemsPerPage>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v2</id>
    <published>2024-01-03T18:00:00Z</published>
    <title>Agents That
      Plan</title>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <published>2024-01-05T09:30:00Z</published>
    <title>A Survey Without Code</title>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00003v1</id>
    <published>2024-01-20T12:00:00Z</published>
    <title>Vanishing Repositories</title>
  </entry>
</feed>`

var paperDocuments = map[string]string{
	"2401.00001": `<html><body><p>Code is available at <a href="https://github.com/octocat/Hello-World">https://github.com/octocat/Hello-World</a>.</p></body></html>`,
	"2401.00002": `<html><body><p>This survey has no accompanying code.</p></body></html>`,
	"2401.00003": `<html><body><p>Implementation: https://github.com/ghost/missing</p></body></html>`,
}

type pipelineFixture struct {
	server       *httptest.Server
	stars        atomic.Int64
	arxivQueries atomic.Int64
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{}
	f.stars.Store(42)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		f.arxivQueries.Add(1)
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("search_query"), "cat:cs.AI AND submittedDate:["))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(feedFixture))
	})
	mux.HandleFunc("/pdf/", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := paperDocuments[strings.TrimPrefix(r.URL.Path, "/pdf/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/repos/octocat/Hello-World", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"full_name": "octocat/Hello-World", "stargazers_count": f.stars.Load()})
	})
	mux.HandleFunc("/repos/ghost/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *pipelineFixture) config(t *testing.T) *config.Config {
	return &config.Config{
		DBDriver:           config.DriverSQLite,
		DBPath:             filepath.Join(t.TempDir(), "papers.db"),
		ArxivBaseURL:       f.server.URL + "/api/query",
		ArxivPDFBaseURL:    f.server.URL + "/pdf",
		ArxivCategory:      "cs.AI",
		ArxivPageSize:      1000,
		WindowStartDaysAgo: 2,
		WindowEndDaysAgo:   1,
		LLMMaxAttempts:     1,
		DocumentTimeout:    5 * time.Second,
		ScratchDir:         t.TempDir(),
		RepoHost:           "github.com",
		GitHubAPIBaseURL:   f.server.URL,
		PollConcurrency:    2,
	}
}

func repoAnswer(prompt string) string {
	switch {
	case strings.Contains(prompt, "octocat"):
		return "The Github Link is: https://github.com/octocat/Hello-World"
	case strings.Contains(prompt, "ghost"):
		return "The Github Link is: https://github.com/ghost/missing"
	}
	return "I didn't find the project link"
}

func newTestPipeline(t *testing.T, cfg *config.Config, gen *fakeGenerator, now time.Time) (*Pipeline, *storage.Store) {
	t.Helper()
	store, err := storage.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := NewPipeline(cfg, zap.NewNop(), store, gen)
	p.now = func() time.Time { return now }
	return p, store
}

func TestPipelineEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t)
	cfg := fx.config(t)
	gen := &fakeGenerator{answer: repoAnswer}
	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	p, store := newTestPipeline(t, cfg, gen, now)
	ctx := context.Background()

	summary, err := p.Run(ctx, RunOptions{Start: day("2024-01-01"), End: day("2024-01-31")})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "cs.AI", summary.Category)
	assert.Equal(t, "2024-02-10", summary.CheckDate)
	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 3, summary.Upserted)
	assert.Equal(t, 2, summary.Resolved)
	assert.Equal(t, 1, summary.NotFound)
	assert.Equal(t, 0, summary.Ambiguous)
	assert.Equal(t, 2, summary.Polled)
	assert.Equal(t, 1, summary.Unavailable)
	assert.Equal(t, 1, summary.StarsWritten)

	// Nur die beiden Dokumente mit Repository-Hinweis gehen an das Modell.
	assert.Equal(t, 2, gen.calls())

	n, err := store.CountPapers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	first, err := store.PaperByArxivID(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "Agents That Plan", first.Title)
	assert.Equal(t, fx.server.URL+"/pdf/2401.00001", first.PDFLink)
	assert.Equal(t, "2024-01-03", first.PublishedDate)
	assert.Equal(t, "https://github.com/octocat/Hello-World", first.GithubLink)

	survey, err := store.PaperByArxivID(ctx, "2401.00002")
	require.NoError(t, err)
	assert.Equal(t, models.LinkNotFound, survey.GithubLink)

	ghost, err := store.PaperByArxivID(ctx, "2401.00003")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/ghost/missing", ghost.GithubLink)

	obs, err := store.ObservationOn(ctx, first.ID, "2024-02-10")
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.Equal(t, 42, obs.Stars)

	// Ein nicht erreichbares Repository bekommt für den Tag keine Zeile.
	missing, err := store.ObservationOn(ctx, ghost.ID, "2024-02-10")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dates, err := store.ListDistinctDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-10"}, dates)

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, 1, runs[0].StarsWritten)
	assert.Empty(t, runs[0].Error)
}

func TestPipelineRerunSameDay(t *testing.T) {
	fx := newPipelineFixture(t)
	cfg := fx.config(t)
	gen := &fakeGenerator{answer: repoAnswer}
	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	p, store := newTestPipeline(t, cfg, gen, now)
	ctx := context.Background()

	opts := RunOptions{Start: day("2024-01-01"), End: day("2024-01-31")}
	_, err := p.Run(ctx, opts)
	require.NoError(t, err)

	fx.stars.Store(50)
	summary, err := p.Run(ctx, opts)
	require.NoError(t, err)

	// Discovery setzt beim jüngsten gespeicherten Tag wieder auf.
	assert.Equal(t, day("2024-01-20"), summary.EffectiveStart)
	// Bereits aufgelöste Papers werden nicht erneut angefragt.
	assert.Equal(t, 2, gen.calls())
	assert.Equal(t, 0, summary.Resolved+summary.NotFound+summary.Ambiguous+summary.ResolveErrors)

	first, err := store.PaperByArxivID(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/octocat/Hello-World", first.GithubLink)

	history, err := store.PaperHistory(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50, history[0].Stars)
}

func TestPipelineRejectedPapersAreNotAskedAgain(t *testing.T) {
	fx := newPipelineFixture(t)
	cfg := fx.config(t)
	rejected := &providers.APIError{Provider: "fake", StatusCode: http.StatusBadRequest, Message: "request rejected"}
	gen := &fakeGenerator{answers: []string{"unused"}}
	for i := 0; i < 10; i++ {
		gen.errs = append(gen.errs, rejected)
	}
	p, store := newTestPipeline(t, cfg, gen, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	opts := RunOptions{Start: day("2024-01-01"), End: day("2024-01-31"), SkipPoll: true}
	first, err := p.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ResolveErrors)
	assert.Equal(t, 1, first.NotFound)

	for i := 0; i < 2; i++ {
		summary, err := p.Run(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.ResolveErrors)
	}
	assert.Equal(t, 2, gen.calls())

	unresolved, err := store.UnresolvedPapers(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	for _, id := range []string{"2401.00001", "2401.00003"} {
		paper, err := store.PaperByArxivID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.LinkNotFound, paper.GithubLink, id)
		assert.Equal(t, string(ErrorProviderRejected), paper.ResolutionNote, id)
	}
}

func TestPipelineSkipFlags(t *testing.T) {
	fx := newPipelineFixture(t)
	cfg := fx.config(t)
	gen := &fakeGenerator{answer: repoAnswer}
	p, store := newTestPipeline(t, cfg, gen, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	summary, err := p.Run(ctx, RunOptions{
		Start:       day("2024-01-01"),
		End:         day("2024-01-31"),
		SkipResolve: true,
		SkipPoll:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 0, gen.calls())

	unresolved, err := store.UnresolvedPapers(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 3)

	queries := fx.arxivQueries.Load()
	_, err = p.Run(ctx, RunOptions{SkipDiscovery: true, SkipPoll: true})
	require.NoError(t, err)
	assert.Equal(t, queries, fx.arxivQueries.Load())
	assert.Equal(t, 2, gen.calls())
}

func TestPipelineRejectsOverlappingRuns(t *testing.T) {
	fx := newPipelineFixture(t)
	p, _ := newTestPipeline(t, fx.config(t), &fakeGenerator{answer: repoAnswer}, time.Now())

	p.mu.Lock()
	_, err := p.Run(context.Background(), RunOptions{})
	p.mu.Unlock()
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestPipelineWindow(t *testing.T) {
	cfg := &config.Config{WindowStartDaysAgo: 2, WindowEndDaysAgo: 1}
	p := &Pipeline{Config: cfg}

	start, end := p.Window(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, day("2024-02-28"), start)
	assert.Equal(t, day("2024-02-29"), end)

	cfg.ArxivStartDate = "2024-01-01"
	start, _ = p.Window(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, day("2024-01-01"), start)
}
