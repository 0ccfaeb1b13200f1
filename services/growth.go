package services

import (
	"context"
	"fmt"
	"time"

	"arxiv-stars/models"
)

// ObservationReader ist der lesende Teil des Stores für Wachstumsberechnungen.
type ObservationReader interface {
	ObservationOn(ctx context.Context, paperID uint, date string) (*models.StarObservation, error)
	LatestObservationOnOrBefore(ctx context.Context, paperID uint, date string) (*models.StarObservation, error)
	EarliestObservationBefore(ctx context.Context, paperID uint, date string) (*models.StarObservation, error)
}

// Growth berechnet den Sternezuwachs eines Papers am Tag date gegenüber days Tagen vorher.
// Fehlt der Stichtag, zählt die letzte Beobachtung davor, sonst die früheste vor date.
// ok ist false, wenn es am Tag date keine Beobachtung gibt.
func Growth(ctx context.Context, store ObservationReader, paperID uint, date string, days int) (int, bool, error) {
	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return 0, false, fmt.Errorf("invalid date %q: %w", date, err)
	}
	current, err := store.ObservationOn(ctx, paperID, date)
	if err != nil || current == nil {
		return 0, false, err
	}

	boundary := day.AddDate(0, 0, -days).Format(models.DateLayout)
	base, err := store.LatestObservationOnOrBefore(ctx, paperID, boundary)
	if err != nil {
		return 0, false, err
	}
	if base == nil {
		if base, err = store.EarliestObservationBefore(ctx, paperID, date); err != nil {
			return 0, false, err
		}
	}
	if base == nil {
		return 0, true, nil
	}
	return current.Stars - base.Stars, true, nil
}
