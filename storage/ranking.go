package storage

import (
	"context"
	"fmt"
	"time"

	"arxiv-stars/models"
)

// Sortierungen, die Rankings akzeptiert.
const (
	SortByStars  = "stars"
	SortByGrowth = "growth"
)

const (
	DefaultPerPage    = 50
	DefaultGrowthDays = 7
)

// RankingQuery wählt eine Seite des Rankings für einen Beobachtungstag.
type RankingQuery struct {
	Date       string
	GrowthDays int
	SortBy     string
	Ascending  bool
	Page       int
	PerPage    int
}

// RankingPage ist eine Seite Ranking-Zeilen plus die Gesamtzahl der Zeilen des Tages.
type RankingPage struct {
	Date       string              `json:"date"`
	GrowthDays int                 `json:"growth_days"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int64               `json:"total"`
	Items      []models.RankingRow `json:"items"`
}

func (q *RankingQuery) normalize() error {
	if _, err := time.Parse(models.DateLayout, q.Date); err != nil {
		return fmt.Errorf("invalid ranking date %q: %w", q.Date, err)
	}
	if q.GrowthDays <= 0 {
		q.GrowthDays = DefaultGrowthDays
	}
	if q.SortBy != SortByStars {
		q.SortBy = SortByGrowth
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	return nil
}

// rankingSQL berechnet das Wachstum gegen die letzte Beobachtung am oder vor dem Stichtag,
// ersatzweise gegen die früheste Beobachtung vor dem Datum. Spalte und Richtung im ORDER BY
// stammen aus festen Listen, alle Werte sind Bind-Parameter.
const rankingSQL = `
SELECT p.id AS paper_id, p.arxiv_id, p.title, p.pdf_link, p.github_link, p.published_date,
       s1.stars AS stars,
       s1.stars - COALESCE(
           (SELECT s2.stars FROM star_counts s2
             WHERE s2.paper_id = p.id AND s2.check_date <= ?
             ORDER BY s2.check_date DESC LIMIT 1),
           (SELECT s3.stars FROM star_counts s3
             WHERE s3.paper_id = p.id AND s3.check_date < ?
             ORDER BY s3.check_date ASC LIMIT 1),
           s1.stars) AS growth
FROM papers p
JOIN star_counts s1 ON s1.paper_id = p.id AND s1.check_date = ?
ORDER BY %s %s, %s %s, p.id ASC
LIMIT ? OFFSET ?`

// Rankings liefert die am q.Date beobachteten Papers mit Sternen und Wachstum über q.GrowthDays.
func (s *Store) Rankings(ctx context.Context, q RankingQuery) (RankingPage, error) {
	if err := q.normalize(); err != nil {
		return RankingPage{}, err
	}
	date, _ := time.Parse(models.DateLayout, q.Date)
	boundary := date.AddDate(0, 0, -q.GrowthDays).Format(models.DateLayout)

	page := RankingPage{Date: q.Date, GrowthDays: q.GrowthDays, Page: q.Page, PerPage: q.PerPage}
	err := s.DB.WithContext(ctx).Model(&models.StarObservation{}).
		Where("check_date = ?", q.Date).
		Count(&page.Total).Error
	if err != nil {
		return RankingPage{}, fmt.Errorf("count rankings: %w", err)
	}
	if page.Total == 0 {
		page.Items = []models.RankingRow{}
		return page, nil
	}

	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	secondary := SortByStars
	if q.SortBy == SortByStars {
		secondary = SortByGrowth
	}
	stmt := fmt.Sprintf(rankingSQL, q.SortBy, dir, secondary, dir)

	var rows []models.RankingRow
	err = s.DB.WithContext(ctx).
		Raw(stmt, boundary, q.Date, q.Date, q.PerPage, (q.Page-1)*q.PerPage).
		Scan(&rows).Error
	if err != nil {
		return RankingPage{}, fmt.Errorf("query rankings: %w", err)
	}
	if rows == nil {
		rows = []models.RankingRow{}
	}
	page.Items = rows
	return page, nil
}
