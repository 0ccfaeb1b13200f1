package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/metrics"
	"arxiv-stars/models"
	"arxiv-stars/providers"
	"arxiv-stars/providers/arxiv"
	"arxiv-stars/providers/github"
	"arxiv-stars/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrRunInProgress = errors.New("pipeline run already in progress")

// RepositoryResolver löst das Dokument eines Papers zu einem Repository auf.
type RepositoryResolver interface {
	Resolve(ctx context.Context, documentURL string) Outcome
}

// StarPoller liefert den aktuellen Sternestand eines Repositories.
type StarPoller interface {
	Stars(ctx context.Context, repoURL string) (int, error)
}

// RunOptions steuert einen einzelnen Lauf. Leere Felder fallen auf die Konfiguration zurück.
type RunOptions struct {
	Category      string
	Start         time.Time
	End           time.Time
	SkipDiscovery bool
	SkipResolve   bool
	SkipPoll      bool
}

// RunSummary fasst einen Lauf zusammen.
type RunSummary struct {
	RunID          string
	Category       string
	WindowStart    time.Time
	WindowEnd      time.Time
	EffectiveStart time.Time
	CheckDate      string

	Discovered    int
	Upserted      int
	ChunkFailures int

	Resolved      int
	NotFound      int
	Ambiguous     int
	ResolveErrors int

	Polled       int
	Unavailable  int
	StarsWritten int

	StartedAt  time.Time
	FinishedAt time.Time
}

func (s RunSummary) record(runErr error) *models.PipelineRun {
	run := &models.PipelineRun{
		ID:            s.RunID,
		StartedAt:     s.StartedAt,
		Category:      s.Category,
		WindowStart:   s.WindowStart.Format(models.DateLayout),
		WindowEnd:     s.WindowEnd.Format(models.DateLayout),
		Discovered:    s.Discovered,
		Upserted:      s.Upserted,
		ChunkFailures: s.ChunkFailures,
		Resolved:      s.Resolved,
		NotFound:      s.NotFound,
		Ambiguous:     s.Ambiguous,
		ResolveErrors: s.ResolveErrors,
		Polled:        s.Polled,
		Unavailable:   s.Unavailable,
		StarsWritten:  s.StarsWritten,
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		run.FinishedAt = &finished
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

// Pipeline kümmert sich um die Orchestrierung eines kompletten Laufs:
// Discovery, Link-Auflösung, Sterne abfragen.
type Pipeline struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *storage.Store
	Discovery *Discovery
	Resolver  RepositoryResolver
	Poller    StarPoller

	now     func() time.Time
	mu      sync.Mutex
	running atomic.Bool
}

// NewPipeline verdrahtet die Standard-Komponenten.
func NewPipeline(cfg *config.Config, logger *zap.Logger, store *storage.Store, gen providers.Generator) *Pipeline {
	return &Pipeline{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Discovery: NewDiscovery(cfg, logger, arxiv.NewFetcher(cfg, logger), store),
		Resolver:  NewResolver(cfg, logger, gen),
		Poller:    github.NewFetcher(cfg, logger),
		now:       time.Now,
	}
}

// Window liefert den Standard-Zeitraum relativ zu now: vorgestern bis gestern,
// bei gesetztem ARXIV_START_DATE ab diesem Datum.
func (p *Pipeline) Window(now time.Time) (time.Time, time.Time) {
	today := truncateDay(now)
	start := today.AddDate(0, 0, -p.Config.WindowStartDaysAgo)
	end := today.AddDate(0, 0, -p.Config.WindowEndDaysAgo)
	if configured, ok, err := p.Config.StartDate(); err == nil && ok && configured.Before(start) {
		start = configured
	}
	return start, end
}

// Running meldet, ob gerade ein Lauf aktiv ist.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run führt einen Lauf aus. Gleichzeitige Läufe werden mit ErrRunInProgress abgelehnt.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	if !p.mu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer p.mu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	now := p.now()
	summary := RunSummary{
		RunID:     uuid.NewString(),
		Category:  opts.Category,
		StartedAt: now.UTC(),
		CheckDate: truncateDay(now).Format(models.DateLayout),
	}
	if summary.Category == "" {
		summary.Category = p.Config.ArxivCategory
	}
	summary.WindowStart, summary.WindowEnd = p.Window(now)
	if !opts.Start.IsZero() {
		summary.WindowStart = truncateDay(opts.Start)
	}
	if !opts.End.IsZero() {
		summary.WindowEnd = truncateDay(opts.End)
	}

	log := p.Logger.With(zap.String("run_id", summary.RunID), zap.String("category", summary.Category))
	log.Info("Starting pipeline run",
		zap.String("window_start", summary.WindowStart.Format(models.DateLayout)),
		zap.String("window_end", summary.WindowEnd.Format(models.DateLayout)))

	if err := p.Store.Migrate(ctx); err != nil {
		return summary, fmt.Errorf("migrate schema: %w", err)
	}
	if err := p.Store.SaveRun(ctx, summary.record(nil)); err != nil {
		log.Warn("Could not record run start", zap.Error(err))
	}

	runErr := p.run(ctx, log, opts, &summary)

	summary.FinishedAt = p.now().UTC()
	duration := summary.FinishedAt.Sub(summary.StartedAt)
	metrics.RunDuration.Observe(duration.Seconds())
	if runErr == nil {
		metrics.LastRunSuccess.SetToCurrentTime()
	}

	// Der Lauf wird auch nach einem Abbruch protokolliert.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.Store.SaveRun(saveCtx, summary.record(runErr)); err != nil {
		log.Warn("Could not record run summary", zap.Error(err))
	}

	log.Info("Pipeline run finished",
		zap.Duration("duration", duration),
		zap.Int("discovered", summary.Discovered),
		zap.Int("resolved", summary.Resolved),
		zap.Int("not_found", summary.NotFound),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Int("resolve_errors", summary.ResolveErrors),
		zap.Int("polled", summary.Polled),
		zap.Int("unavailable", summary.Unavailable),
		zap.Int("stars_written", summary.StarsWritten),
		zap.Error(runErr))
	return summary, runErr
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, opts RunOptions, summary *RunSummary) error {
	if !opts.SkipDiscovery {
		if err := p.discover(ctx, log, summary); err != nil {
			return err
		}
	}
	if !opts.SkipResolve {
		if err := p.resolveAll(ctx, log, summary); err != nil {
			return err
		}
	}
	if !opts.SkipPoll {
		if err := p.pollAll(ctx, log, summary); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) discover(ctx context.Context, log *zap.Logger, summary *RunSummary) error {
	stats, err := p.Discovery.DiscoverEach(ctx, summary.Category, summary.WindowStart, summary.WindowEnd,
		func(ctx context.Context, chunk Chunk, papers []models.Paper) error {
			n, err := p.Store.UpsertPapers(ctx, papers)
			summary.Upserted += n
			return err
		})
	summary.EffectiveStart = stats.EffectiveStart
	summary.Discovered = stats.Discovered
	summary.ChunkFailures = stats.PageFailures + stats.SinkFailures
	metrics.PapersDiscovered.Add(float64(stats.Discovered))
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveAll(ctx context.Context, log *zap.Logger, summary *RunSummary) error {
	papers, err := p.Store.UnresolvedPapers(ctx)
	if err != nil {
		return fmt.Errorf("load unresolved papers: %w", err)
	}
	log.Info("Resolving repositories", zap.Int("papers", len(papers)))

	for _, paper := range papers {
		if err := ctx.Err(); err != nil {
			return err
		}
		plog := log.With(zap.String("arxiv_id", paper.ArxivID))

		outcome := p.Resolver.Resolve(ctx, paper.PDFLink)
		metrics.Resolutions.WithLabelValues(outcome.MetricLabel()).Inc()

		switch outcome.Kind {
		case OutcomeResolved:
			summary.Resolved++
		case OutcomeNotFound:
			summary.NotFound++
		case OutcomeAmbiguous:
			summary.Ambiguous++
		default:
			summary.ResolveErrors++
		}

		if !outcome.Permanent() {
			plog.Warn("Resolution failed, paper stays unresolved for the next run",
				zap.String("kind", string(outcome.ErrKind)), zap.Error(outcome.Err))
			continue
		}
		err := p.Store.SetResolution(ctx, paper.ID, outcome.StoredLink(), outcome.Note, outcome.Candidates)
		if errors.Is(err, storage.ErrAlreadyResolved) {
			plog.Debug("Paper was resolved concurrently, keeping existing link.")
			continue
		}
		if err != nil {
			return fmt.Errorf("store resolution for %s: %w", paper.ArxivID, err)
		}
	}
	return nil
}

func (p *Pipeline) pollAll(ctx context.Context, log *zap.Logger, summary *RunSummary) error {
	papers, err := p.Store.PapersWithRepository(ctx)
	if err != nil {
		return fmt.Errorf("load papers with repository: %w", err)
	}
	log.Info("Polling star counts", zap.Int("papers", len(papers)), zap.Int("concurrency", p.Config.PollConcurrency))

	concurrency := p.Config.PollConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		observations []models.StarObservation
	)
	semaphore := make(chan struct{}, concurrency)

	for i, paper := range papers {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && p.Config.PollDelay > 0 {
			if err := sleepCtx(ctx, p.Config.PollDelay); err != nil {
				break
			}
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(paper models.Paper) {
			defer wg.Done()
			defer func() { <-semaphore }()

			stars, err := p.Poller.Stars(ctx, paper.GithubLink)
			mu.Lock()
			defer mu.Unlock()
			summary.Polled++
			if err != nil {
				summary.Unavailable++
				metrics.StarPolls.WithLabelValues("unavailable").Inc()
				return
			}
			metrics.StarPolls.WithLabelValues("ok").Inc()
			observations = append(observations, models.StarObservation{
				PaperID:   paper.ID,
				CheckDate: summary.CheckDate,
				Stars:     stars,
			})
		}(paper)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := p.Store.UpsertStarObservations(ctx, observations)
	if err != nil {
		return fmt.Errorf("store star counts: %w", err)
	}
	summary.StarsWritten = n
	return nil
}
