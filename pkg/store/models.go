package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ApplicationModel struct {
	ID         string  `gorm:"primaryKey"`
	FullName   string  `gorm:"size:100;not null"`
	Email      string  `gorm:"not null;index"`
	Phone      *string
	Department *string
	Reason     string         `gorm:"type:text;not null"`
	Skills     *string        `gorm:"type:text"`
	Consent    bool           `gorm:"not null"`
	CVPath     *string
	Attachment datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
