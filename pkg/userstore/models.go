package userstore

import (
	"time"

	"gorm.io/datatypes"
)

// GORM model used for persistence.
type UserModel struct {
	ID                 string `gorm:"primaryKey"`
	Email              string `gorm:"uniqueIndex;not null"`
	DisplayName        string
	Role               string `gorm:"not null"`
	SheetID            string `gorm:"index"`
	Plan               string `gorm:"not null"`
	SubscriptionStatus string
	LibraryName        string
	Settings           datatypes.JSON `gorm:"type:jsonb"`
	LastLogin          *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time
}
