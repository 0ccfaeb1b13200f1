package services

import (
	"context"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"
	"arxiv-stars/providers/arxiv"

	"go.uber.org/zap"
)

// PaperSource ist die Such-API, aus der Discovery liest.
type PaperSource interface {
	Count(ctx context.Context, query string) (int, error)
	FetchPage(ctx context.Context, query string, start, limit int) ([]arxiv.Entry, error)
	NormalizeEntry(e arxiv.Entry, category string) (models.Paper, error)
}

// PublishedDateLookup liefert das jüngste bereits gespeicherte Veröffentlichungsdatum.
type PublishedDateLookup interface {
	LatestPublishedDate(ctx context.Context, category string) (time.Time, bool, error)
}

// Chunk ist ein Teilbereich [Start, End] innerhalb eines Kalendermonats.
type Chunk struct {
	Start time.Time
	End   time.Time
}

func (c Chunk) String() string {
	return c.Start.Format(models.DateLayout) + ".." + c.End.Format(models.DateLayout)
}

// ChunkFunc verarbeitet die Papers eines Chunks, typischerweise ein Upsert.
type ChunkFunc func(ctx context.Context, chunk Chunk, papers []models.Paper) error

// DiscoveryStats zählt, was ein Discovery-Lauf gesehen hat.
type DiscoveryStats struct {
	EffectiveStart time.Time
	Chunks         int
	Pages          int
	PageFailures   int
	Malformed      int
	Discovered     int
	SinkFailures   int
}

// Discovery holt neue Papers monatsweise und seitenweise von arXiv.
type Discovery struct {
	Config *config.Config
	Logger *zap.Logger
	Source PaperSource
	Store  PublishedDateLookup

	sleep       func(ctx context.Context, d time.Duration) error
	lastRequest time.Time
}

// NewDiscovery erstellt eine Discovery mit dem arXiv-Fetcher.
func NewDiscovery(cfg *config.Config, logger *zap.Logger, source PaperSource, store PublishedDateLookup) *Discovery {
	return &Discovery{
		Config: cfg,
		Logger: logger,
		Source: source,
		Store:  store,
		sleep:  sleepCtx,
	}
}

// MonthChunks zerlegt [start, end] an Monatsgrenzen. Beide Enden sind inklusive.
func MonthChunks(start, end time.Time) []Chunk {
	start = truncateDay(start)
	end = truncateDay(end)
	var chunks []Chunk
	for cur := start; !cur.After(end); {
		monthEnd := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		chunkEnd := monthEnd
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, Chunk{Start: cur, End: chunkEnd})
		cur = monthEnd.AddDate(0, 0, 1)
	}
	return chunks
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EffectiveStart schiebt den Start auf das jüngste gespeicherte Veröffentlichungsdatum vor.
// Dieser Tag wird erneut abgefragt, weil er beim letzten Lauf unvollständig gewesen sein kann.
func (d *Discovery) EffectiveStart(ctx context.Context, category string, start time.Time) (time.Time, error) {
	start = truncateDay(start)
	if d.Store == nil {
		return start, nil
	}
	latest, ok, err := d.Store.LatestPublishedDate(ctx, category)
	if err != nil {
		return start, err
	}
	if ok && latest.After(start) {
		return truncateDay(latest), nil
	}
	return start, nil
}

// Discover sammelt alle Papers im Bereich ein.
func (d *Discovery) Discover(ctx context.Context, category string, start, end time.Time) ([]models.Paper, DiscoveryStats, error) {
	var all []models.Paper
	stats, err := d.DiscoverEach(ctx, category, start, end, func(_ context.Context, _ Chunk, papers []models.Paper) error {
		all = append(all, papers...)
		return nil
	})
	return all, stats, err
}

// DiscoverEach ruft fn einmal pro Chunk mit dessen Papers auf. Fehler einzelner Seiten
// oder von fn beenden nur den betroffenen Chunk; zurückgegeben wird nur ein Abbruch des Kontexts.
func (d *Discovery) DiscoverEach(ctx context.Context, category string, start, end time.Time, fn ChunkFunc) (DiscoveryStats, error) {
	log := d.Logger.With(zap.String("category", category))
	var stats DiscoveryStats

	effStart, err := d.EffectiveStart(ctx, category, start)
	if err != nil {
		log.Warn("Could not determine resume point, using configured start", zap.Error(err))
	}
	stats.EffectiveStart = effStart
	if effStart.After(truncateDay(end)) {
		log.Info("Nothing to discover, store is ahead of the requested range",
			zap.Time("effective_start", effStart), zap.Time("end", end))
		return stats, nil
	}

	for _, chunk := range MonthChunks(effStart, end) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Chunks++
		papers := d.fetchChunk(ctx, category, chunk, &stats)
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(papers) == 0 {
			continue
		}
		stats.Discovered += len(papers)
		if err := fn(ctx, chunk, papers); err != nil {
			stats.SinkFailures++
			log.Error("Storing chunk failed", zap.Stringer("chunk", chunk), zap.Error(err))
		}
	}
	log.Info("Discovery finished",
		zap.Int("chunks", stats.Chunks),
		zap.Int("papers", stats.Discovered),
		zap.Int("page_failures", stats.PageFailures))
	return stats, nil
}

func (d *Discovery) fetchChunk(ctx context.Context, category string, chunk Chunk, stats *DiscoveryStats) []models.Paper {
	query := arxiv.Query(category, chunk.Start, chunk.End)
	log := d.Logger.With(zap.String("category", category), zap.Stringer("chunk", chunk))

	if err := d.pace(ctx); err != nil {
		return nil
	}
	total, err := d.Source.Count(ctx, query)
	switch {
	case err != nil:
		log.Warn("Count probe failed, paginating anyway", zap.Error(err))
	case total == 0:
		log.Info("No papers in chunk.")
		return nil
	default:
		log.Info("Chunk has papers", zap.Int("total", total))
	}

	pageSize := d.Config.ArxivPageSize
	var papers []models.Paper
	for start := 0; ; start += pageSize {
		if err := d.pace(ctx); err != nil {
			return papers
		}
		entries, err := d.Source.FetchPage(ctx, query, start, pageSize)
		if err != nil {
			stats.PageFailures++
			log.Error("Fetching page failed, skipping rest of chunk", zap.Int("start", start), zap.Error(err))
			return papers
		}
		stats.Pages++
		for _, e := range entries {
			p, err := d.Source.NormalizeEntry(e, category)
			if err != nil {
				stats.Malformed++
				log.Warn("Skipping malformed entry", zap.String("id", e.ID), zap.Error(err))
				continue
			}
			papers = append(papers, p)
		}
		log.Debug("Fetched page", zap.Int("start", start), zap.Int("entries", len(entries)))
		if len(entries) < pageSize {
			return papers
		}
	}
}

// pace hält ArxivRequestDelay zwischen zwei Anfragen an arXiv ein.
func (d *Discovery) pace(ctx context.Context) error {
	if !d.lastRequest.IsZero() {
		if wait := d.Config.ArxivRequestDelay - time.Since(d.lastRequest); wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	d.lastRequest = time.Now()
	return nil
}
