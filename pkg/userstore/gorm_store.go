package userstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"gundeshapur/pkg/domain"
)

const migrateLockID int64 = 82910231

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "display_name", "role", "sheet_id", "plan",
			"subscription_status", "library_name", "settings",
			"last_login", "updated_at",
		}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SetSheetID stores the connected spreadsheet ID.
func (s *GormStore) SetSheetID(userID, sheetID string) error {
	return s.updateUser(userID, map[string]any{"sheet_id": sheetID})
}

// SetPlan updates plan and subscription status.
func (s *GormStore) SetPlan(userID string, plan domain.Plan, subscriptionStatus string) error {
	return s.updateUser(userID, map[string]any{
		"plan":                string(plan),
		"subscription_status": subscriptionStatus,
	})
}

// TouchLastLogin stamps the last successful login.
func (s *GormStore) TouchLastLogin(userID string, at time.Time) error {
	return s.updateUser(userID, map[string]any{"last_login": at.UTC()})
}

func (s *GormStore) updateUser(userID string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	tx := s.db.Model(&UserModel{}).Where("id = ?", userID).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("user %q not found", userID)
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	var lastLogin *time.Time
	if !u.LastLogin.IsZero() {
		value := u.LastLogin.UTC()
		lastLogin = &value
	}
	settings, _ := json.Marshal(u.Settings)
	return UserModel{
		ID:                 u.ID,
		Email:              u.Email,
		DisplayName:        u.DisplayName,
		Role:               string(u.Role),
		SheetID:            u.SheetID,
		Plan:               string(u.Plan),
		SubscriptionStatus: u.SubscriptionStatus,
		LibraryName:        u.LibraryName,
		Settings:           settings,
		LastLogin:          lastLogin,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	plan := domain.Plan(m.Plan)
	if plan == "" {
		plan = domain.PlanFree
	}
	var settings map[string]string
	if len(m.Settings) > 0 {
		_ = json.Unmarshal(m.Settings, &settings)
	}
	var lastLogin time.Time
	if m.LastLogin != nil {
		lastLogin = *m.LastLogin
	}
	return domain.User{
		ID:                 m.ID,
		Email:              m.Email,
		DisplayName:        m.DisplayName,
		Role:               domain.UserRole(m.Role),
		SheetID:            m.SheetID,
		Plan:               plan,
		SubscriptionStatus: m.SubscriptionStatus,
		LibraryName:        m.LibraryName,
		Settings:           settings,
		LastLogin:          lastLogin,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
