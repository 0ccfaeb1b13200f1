package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DateLayout ist das Format aller Kalenderdaten in der Datenbank (lexikografisch sortierbar).
const DateLayout = "2006-01-02"

// Zustände von GithubLink, die keine Repository-URL sind.
const (
	LinkUnresolved = ""
	LinkNotFound   = "not_found"
	LinkAmbiguous  = "ambiguous"
)

// Paper repräsentiert ein arXiv-Paper und das zugeordnete Repository.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// arXiv-ID ohne Versions-Suffix
	ArxivID       string `json:"arxiv_id" gorm:"column:arxiv_id;uniqueIndex;not null"`
	Category      string `json:"category" gorm:"index"`
	Title         string `json:"title" gorm:"type:text"`
	PDFLink       string `json:"pdf_link" gorm:"column:pdf_link"`
	PublishedDate string `json:"published_date" gorm:"size:10;index"`

	// Ergebnis der Link-Auflösung
	GithubLink           string         `json:"github_link" gorm:"index;default:''"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote       string         `json:"resolution_note,omitempty"`
	ResolutionCandidates datatypes.JSON `json:"resolution_candidates,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Paper) TableName() string {
	return "papers"
}

// IsResolved meldet, ob für das Paper bereits ein Auflösungsversuch abgeschlossen wurde.
func (p Paper) IsResolved() bool {
	return p.GithubLink != LinkUnresolved
}

// HasRepository meldet, ob GithubLink eine echte Repository-URL ist.
func (p Paper) HasRepository() bool {
	return strings.HasPrefix(p.GithubLink, "https://")
}
