package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyResolved = errors.New("paper already resolved")
)

// Store kapselt alle Lese- und Schreibzugriffe auf Papers und Sternestände.
type Store struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// New verpackt eine bestehende gorm-Verbindung.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{DB: db, Logger: logger}
}

// Open baut die Verbindung anhand von DB_DRIVER auf.
func Open(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000")
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	return New(db, logger), nil
}

// Migrate legt Tabellen und Indizes an, falls sie fehlen.
func (s *Store) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(&models.Paper{}, &models.StarObservation{}, &models.PipelineRun{})
}

// Close schließt die zugrunde liegende Verbindung.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertPapers schreibt einen Batch Papers in einer Transaktion. Bei bekannter arxiv_id
// gewinnen die neuen Metadaten; der Auflösungsstatus bleibt unberührt.
func (s *Store) UpsertPapers(ctx context.Context, papers []models.Paper) (int, error) {
	batch := dedupePapers(papers)
	if len(batch) == 0 {
		return 0, nil
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "arxiv_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "pdf_link", "published_date", "category", "updated_at"}),
		}).CreateInBatches(&batch, 200).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert papers: %w", err)
	}
	return len(batch), nil
}

func dedupePapers(papers []models.Paper) []models.Paper {
	index := make(map[string]int, len(papers))
	var out []models.Paper
	for _, p := range papers {
		p.ID = 0
		if i, ok := index[p.ArxivID]; ok {
			out[i] = p
			continue
		}
		index[p.ArxivID] = len(out)
		out = append(out, p)
	}
	return out
}

// UpsertStarObservations schreibt die Sternestände eines Tages in einer Transaktion.
// Ein zweiter Wert für dasselbe (paper, check_date) ersetzt den ersten.
func (s *Store) UpsertStarObservations(ctx context.Context, observations []models.StarObservation) (int, error) {
	type key struct {
		paperID uint
		date    string
	}
	index := make(map[key]int, len(observations))
	var batch []models.StarObservation
	for _, o := range observations {
		o.ID = 0
		o.Paper = nil
		k := key{o.PaperID, o.CheckDate}
		if i, ok := index[k]; ok {
			batch[i] = o
			continue
		}
		index[k] = len(batch)
		batch = append(batch, o)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "paper_id"}, {Name: "check_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"stars", "updated_at"}),
		}).CreateInBatches(&batch, 500).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert star observations: %w", err)
	}
	return len(batch), nil
}

// SetResolution hält das Ergebnis der Link-Auflösung fest. Ein Paper wird nur einmal aufgelöst.
func (s *Store) SetResolution(ctx context.Context, paperID uint, link, note string, candidates []string) error {
	updates := map[string]any{
		"github_link":     link,
		"resolution_note": note,
		"resolved_at":     time.Now().UTC(),
	}
	if len(candidates) > 0 {
		raw, err := json.Marshal(candidates)
		if err != nil {
			return err
		}
		updates["resolution_candidates"] = datatypes.JSON(raw)
	}

	res := s.DB.WithContext(ctx).Model(&models.Paper{}).
		Where("id = ? AND (github_link = ? OR github_link IS NULL)", paperID, models.LinkUnresolved).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set resolution for paper %d: %w", paperID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// UnresolvedPapers liefert alle Papers ohne Auflösungsversuch, neueste zuerst.
func (s *Store) UnresolvedPapers(ctx context.Context) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.DB.WithContext(ctx).
		Where("github_link = ? OR github_link IS NULL", models.LinkUnresolved).
		Order("published_date DESC, id ASC").
		Find(&papers).Error
	return papers, err
}

// PapersWithRepository liefert alle Papers mit echter Repository-URL.
func (s *Store) PapersWithRepository(ctx context.Context) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.DB.WithContext(ctx).
		Where("github_link LIKE ?", "https://%").
		Order("id ASC").
		Find(&papers).Error
	return papers, err
}

// LatestPublishedDate liefert das jüngste Veröffentlichungsdatum einer Kategorie.
func (s *Store) LatestPublishedDate(ctx context.Context, category string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.DB.WithContext(ctx).Model(&models.Paper{}).
		Where("category = ?", category).
		Select("MAX(published_date)").
		Scan(&latest).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(models.DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stored published_date %q: %w", latest.String, err)
	}
	return t, true, nil
}

// PaperByArxivID sucht ein Paper über seine arXiv-ID.
func (s *Store) PaperByArxivID(ctx context.Context, arxivID string) (*models.Paper, error) {
	var p models.Paper
	err := s.DB.WithContext(ctx).Where("arxiv_id = ?", arxivID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPapers zählt alle gespeicherten Papers.
func (s *Store) CountPapers(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Paper{}).Count(&n).Error
	return n, err
}

// ListDistinctDates liefert alle Beobachtungstage, neuester zuerst.
func (s *Store) ListDistinctDates(ctx context.Context) ([]string, error) {
	var dates []string
	err := s.DB.WithContext(ctx).Model(&models.StarObservation{}).
		Distinct("check_date").
		Order("check_date DESC").
		Pluck("check_date", &dates).Error
	return dates, err
}

// LatestObservationBefore liefert die jüngste Beobachtung strikt vor date oder nil.
func (s *Store) LatestObservationBefore(ctx context.Context, paperID uint, date string) (*models.StarObservation, error) {
	return s.firstObservation(ctx, "paper_id = ? AND check_date < ?", "check_date DESC", paperID, date)
}

// LatestObservationOnOrBefore liefert die jüngste Beobachtung bis einschließlich date oder nil.
func (s *Store) LatestObservationOnOrBefore(ctx context.Context, paperID uint, date string) (*models.StarObservation, error) {
	return s.firstObservation(ctx, "paper_id = ? AND check_date <= ?", "check_date DESC", paperID, date)
}

// EarliestObservationBefore liefert die älteste Beobachtung strikt vor date oder nil.
func (s *Store) EarliestObservationBefore(ctx context.Context, paperID uint, date string) (*models.StarObservation, error) {
	return s.firstObservation(ctx, "paper_id = ? AND check_date < ?", "check_date ASC", paperID, date)
}

// ObservationOn liefert die Beobachtung eines Tages oder nil.
func (s *Store) ObservationOn(ctx context.Context, paperID uint, date string) (*models.StarObservation, error) {
	return s.firstObservation(ctx, "paper_id = ? AND check_date = ?", "check_date ASC", paperID, date)
}

func (s *Store) firstObservation(ctx context.Context, where, order string, args ...any) (*models.StarObservation, error) {
	var o models.StarObservation
	err := s.DB.WithContext(ctx).Where(where, args...).Order(order).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PaperHistory liefert alle Beobachtungen eines Papers chronologisch.
func (s *Store) PaperHistory(ctx context.Context, paperID uint) ([]models.StarObservation, error) {
	var obs []models.StarObservation
	err := s.DB.WithContext(ctx).Where("paper_id = ?", paperID).Order("check_date ASC").Find(&obs).Error
	return obs, err
}

// SaveRun legt einen Pipeline-Lauf an oder aktualisiert ihn.
func (s *Store) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	return s.DB.WithContext(ctx).Save(run).Error
}

// RecentRuns liefert die letzten Läufe, neuester zuerst.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.PipelineRun
	err := s.DB.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

type snapshotLine struct {
	Kind        string                  `json:"kind"`
	Paper       *models.Paper           `json:"paper,omitempty"`
	Observation *models.StarObservation `json:"observation,omitempty"`
}

// ExportSnapshot schreibt alle Papers und Beobachtungen als JSON Lines nach w.
func (s *Store) ExportSnapshot(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	written := 0

	var papers []models.Paper
	res := s.DB.WithContext(ctx).Order("id ASC").FindInBatches(&papers, 1000, func(tx *gorm.DB, batch int) error {
		for i := range papers {
			if err := enc.Encode(snapshotLine{Kind: "paper", Paper: &papers[i]}); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if res.Error != nil {
		return written, fmt.Errorf("export papers: %w", res.Error)
	}

	var obs []models.StarObservation
	res = s.DB.WithContext(ctx).Order("id ASC").FindInBatches(&obs, 5000, func(tx *gorm.DB, batch int) error {
		for i := range obs {
			if err := enc.Encode(snapshotLine{Kind: "star_count", Observation: &obs[i]}); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if res.Error != nil {
		return written, fmt.Errorf("export star counts: %w", res.Error)
	}
	return written, nil
}
