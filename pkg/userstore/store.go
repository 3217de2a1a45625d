package userstore

import (
	"time"

	"gundeshapur/pkg/domain"
)

// Store defines persistence for account records. Library data itself
// lives in each user's spreadsheet; this store only keeps who the users
// are and which spreadsheet belongs to them.
type Store interface {
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	HasUserEmail(email string) (bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)

	// SetSheetID connects (or disconnects, with "") a user's library
	// spreadsheet.
	SetSheetID(userID, sheetID string) error
	SetPlan(userID string, plan domain.Plan, subscriptionStatus string) error
	TouchLastLogin(userID string, at time.Time) error
}
