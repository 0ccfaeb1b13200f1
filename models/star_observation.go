package models

import "time"

// StarObservation ist der Sternestand eines Papers an einem Kalendertag.
type StarObservation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaperID   uint   `json:"paper_id" gorm:"not null;index:idx_star_counts_paper;index:idx_star_counts_unique,unique"`
	CheckDate string `json:"check_date" gorm:"size:10;not null;index:idx_star_counts_date;index:idx_star_counts_unique,unique"`
	Stars     int    `json:"stars" gorm:"not null;default:0"`

	Paper *Paper `json:"-" gorm:"foreignKey:PaperID;constraint:OnDelete:RESTRICT"`
}

func (StarObservation) TableName() string { return "star_counts" }
