package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{DBDriver: config.DriverSQLite, DBPath: filepath.Join(t.TempDir(), "papers.db")}
	s, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPaper(t *testing.T, s *Store, arxivID, link string) models.Paper {
	t.Helper()
	ctx := context.Background()
	_, err := s.UpsertPapers(ctx, []models.Paper{{ArxivID: arxivID, Category: "cs.AI", Title: arxivID, PublishedDate: "2024-01-10"}})
	require.NoError(t, err)
	if link != "" {
		require.NoError(t, s.SetResolution(ctx, mustPaper(t, s, arxivID).ID, link, "", nil))
	}
	return *mustPaper(t, s, arxivID)
}

func mustPaper(t *testing.T, s *Store, arxivID string) *models.Paper {
	t.Helper()
	p, err := s.PaperByArxivID(context.Background(), arxivID)
	require.NoError(t, err)
	return p
}

func TestUpsertPapersLatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertPapers(ctx, []models.Paper{{ArxivID: "2401.00001", Title: "First", PublishedDate: "2024-01-01", Category: "cs.AI"}})
	require.NoError(t, err)
	p := mustPaper(t, s, "2401.00001")
	require.NoError(t, s.SetResolution(ctx, p.ID, "https://github.com/a/b", "", nil))

	n, err := s.UpsertPapers(ctx, []models.Paper{
		{ArxivID: "2401.00001", Title: "Second", PublishedDate: "2024-01-02", Category: "cs.AI"},
		{ArxivID: "2401.00001", Title: "Third", PublishedDate: "2024-01-02", Category: "cs.AI"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	p = mustPaper(t, s, "2401.00001")
	assert.Equal(t, "Third", p.Title)
	assert.Equal(t, "2024-01-02", p.PublishedDate)
	assert.Equal(t, "https://github.com/a/b", p.GithubLink, "re-ingestion must not reset the resolution")
}

func TestSetResolutionOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPaper(t, s, "2401.00002", "")

	require.NoError(t, s.SetResolution(ctx, p.ID, models.LinkAmbiguous, "multiple candidates", []string{"https://github.com/a/b", "https://github.com/c/d"}))
	err := s.SetResolution(ctx, p.ID, "https://github.com/a/b", "", nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	got := mustPaper(t, s, "2401.00002")
	assert.Equal(t, models.LinkAmbiguous, got.GithubLink)
	assert.NotNil(t, got.ResolvedAt)
	var cands []string
	require.NoError(t, json.Unmarshal(got.ResolutionCandidates, &cands))
	assert.Len(t, cands, 2)
}

func TestUnresolvedAndWithRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPaper(t, s, "a", "")
	seedPaper(t, s, "b", models.LinkNotFound)
	seedPaper(t, s, "c", "https://github.com/x/y")

	unresolved, err := s.UnresolvedPapers(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "a", unresolved[0].ArxivID)

	withRepo, err := s.PapersWithRepository(ctx)
	require.NoError(t, err)
	require.Len(t, withRepo, 1)
	assert.Equal(t, "c", withRepo[0].ArxivID)
}

func TestUpsertStarObservationsReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPaper(t, s, "2401.00003", "https://github.com/a/b")

	_, err := s.UpsertStarObservations(ctx, []models.StarObservation{{PaperID: p.ID, CheckDate: "2024-02-01", Stars: 10}})
	require.NoError(t, err)
	_, err = s.UpsertStarObservations(ctx, []models.StarObservation{{PaperID: p.ID, CheckDate: "2024-02-01", Stars: 12}})
	require.NoError(t, err)

	history, err := s.PaperHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 12, history[0].Stars)
}

func TestUpsertStarObservationsRollsBackBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPaper(t, s, "2401.00004", "https://github.com/a/b")

	_, err := s.UpsertStarObservations(ctx, []models.StarObservation{
		{PaperID: p.ID, CheckDate: "2024-02-01", Stars: 5},
		{PaperID: 9999, CheckDate: "2024-02-01", Stars: 7},
	})
	require.Error(t, err)

	history, err := s.PaperHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestObservationLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPaper(t, s, "2401.00005", "https://github.com/a/b")

	_, err := s.UpsertStarObservations(ctx, []models.StarObservation{
		{PaperID: p.ID, CheckDate: "2024-03-01", Stars: 1},
		{PaperID: p.ID, CheckDate: "2024-03-05", Stars: 5},
		{PaperID: p.ID, CheckDate: "2024-03-08", Stars: 8},
	})
	require.NoError(t, err)

	o, err := s.LatestObservationBefore(ctx, p.ID, "2024-03-05")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "2024-03-01", o.CheckDate)

	o, err = s.LatestObservationOnOrBefore(ctx, p.ID, "2024-03-05")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 5, o.Stars)

	o, err = s.EarliestObservationBefore(ctx, p.ID, "2024-03-08")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "2024-03-01", o.CheckDate)

	o, err = s.LatestObservationBefore(ctx, p.ID, "2024-03-01")
	require.NoError(t, err)
	assert.Nil(t, o)

	dates, err := s.ListDistinctDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-08", "2024-03-05", "2024-03-01"}, dates)
}

func TestLatestPublishedDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestPublishedDate(ctx, "cs.AI")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpsertPapers(ctx, []models.Paper{
		{ArxivID: "1", Category: "cs.AI", PublishedDate: "2024-01-03"},
		{ArxivID: "2", Category: "cs.AI", PublishedDate: "2024-01-15"},
		{ArxivID: "3", Category: "cs.CL", PublishedDate: "2024-02-01"},
	})
	require.NoError(t, err)

	latest, ok, err := s.LatestPublishedDate(ctx, "cs.AI")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), latest)
}

func TestRankings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exact := seedPaper(t, s, "exact", "https://github.com/a/exact")
	sparse := seedPaper(t, s, "sparse", "https://github.com/a/sparse")
	fresh := seedPaper(t, s, "fresh", "https://github.com/a/fresh")
	young := seedPaper(t, s, "young", "https://github.com/a/young")

	_, err := s.UpsertStarObservations(ctx, []models.StarObservation{
		// exact boundary row on D-7
		{PaperID: exact.ID, CheckDate: "2024-03-01", Stars: 10},
		{PaperID: exact.ID, CheckDate: "2024-03-08", Stars: 30},
		// no row on D-7, latest before it is D-9
		{PaperID: sparse.ID, CheckDate: "2024-02-28", Stars: 100},
		{PaperID: sparse.ID, CheckDate: "2024-03-04", Stars: 150},
		{PaperID: sparse.ID, CheckDate: "2024-03-08", Stars: 160},
		// only observed on D
		{PaperID: fresh.ID, CheckDate: "2024-03-08", Stars: 500},
		// first seen after the boundary, falls back to earliest prior observation
		{PaperID: young.ID, CheckDate: "2024-03-06", Stars: 1},
		{PaperID: young.ID, CheckDate: "2024-03-08", Stars: 4},
	})
	require.NoError(t, err)

	page, err := s.Rankings(ctx, RankingQuery{Date: "2024-03-08", GrowthDays: 7, SortBy: SortByGrowth})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 4)

	growth := map[string]int{}
	for _, r := range page.Items {
		growth[r.ArxivID] = r.Growth
	}
	assert.Equal(t, 20, growth["exact"])
	assert.Equal(t, 60, growth["sparse"])
	assert.Equal(t, 0, growth["fresh"])
	assert.Equal(t, 3, growth["young"])
	assert.Equal(t, "sparse", page.Items[0].ArxivID)

	page, err = s.Rankings(ctx, RankingQuery{Date: "2024-03-08", SortBy: SortByStars, PerPage: 2, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "fresh", page.Items[0].ArxivID)
	assert.Equal(t, 500, page.Items[0].Stars)

	page, err = s.Rankings(ctx, RankingQuery{Date: "2024-03-08", SortBy: SortByStars, PerPage: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "young", page.Items[1].ArxivID)

	empty, err := s.Rankings(ctx, RankingQuery{Date: "2023-01-01"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Empty(t, empty.Items)

	_, err = s.Rankings(ctx, RankingQuery{Date: "08.03.2024"})
	assert.Error(t, err)
}

func TestExportSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPaper(t, s, "2401.00006", "https://github.com/a/b")
	_, err := s.UpsertStarObservations(ctx, []models.StarObservation{{PaperID: p.ID, CheckDate: "2024-02-01", Stars: 3}})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := s.ExportSnapshot(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var kinds []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line snapshotLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line.Kind)
	}
	assert.Equal(t, []string{"paper", "star_count"}, kinds)
}

func TestRunsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.PipelineRun{ID: "run-1", StartedAt: time.Now().UTC(), Category: "cs.AI", Discovered: 3}
	require.NoError(t, s.SaveRun(ctx, run))
	run.Resolved = 2
	require.NoError(t, s.SaveRun(ctx, run))

	runs, err := s.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Resolved)
}
