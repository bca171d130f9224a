// Package store keeps local user records in SQLite through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
)

// User is the persisted form of auth.UserRecord.
type User struct {
	ID               string   `gorm:"primaryKey;size:36"`
	Username         string   `gorm:"uniqueIndex;not null"`
	IsAdministrator  bool     `gorm:"not null;default:false"`
	EnableAllFolders bool     `gorm:"not null;default:false"`
	EnabledFolders   []string `gorm:"serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (u *User) record() *auth.UserRecord {
	return &auth.UserRecord{
		ID:               u.ID,
		Username:         u.Username,
		IsAdministrator:  u.IsAdministrator,
		EnableAllFolders: u.EnableAllFolders,
		EnabledFolders:   append([]string(nil), u.EnabledFolders...),
	}
}

// Store implements auth.UserStore.
type Store struct {
	db *gorm.DB
}

var _ auth.UserStore = (*Store)(nil)

// New opens the database at path and migrates the schema. An empty path
// opens a private in-memory database.
func New(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}

	// every pooled connection to :memory: would see its own database
	if path == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate user store: %w", err)
	}

	return &Store{db: db}, nil
}

// FindByUsername returns nil and no error when no record exists.
func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.UserRecord, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.record(), nil
}

// Create inserts record under a fresh ID in a single statement. A
// username that is already stored yields ErrUsernameConflict.
func (s *Store) Create(ctx context.Context, record *auth.UserRecord) (*auth.UserRecord, error) {
	folders := record.EnabledFolders
	if folders == nil {
		folders = []string{}
	}

	user := User{
		ID:               uuid.New().String(),
		Username:         record.Username,
		IsAdministrator:  record.IsAdministrator,
		EnableAllFolders: record.EnableAllFolders,
		EnabledFolders:   folders,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %s", ErrUsernameConflict, record.Username)
		}
		return nil, err
	}
	return user.record(), nil
}

// Update writes every mutable field of record.
func (s *Store) Update(ctx context.Context, record *auth.UserRecord) error {
	folders := record.EnabledFolders
	if folders == nil {
		folders = []string{}
	}

	result := s.db.WithContext(ctx).Model(&User{ID: record.ID}).Select(
		"IsAdministrator", "EnableAllFolders", "EnabledFolders",
	).Updates(&User{
		IsAdministrator:  record.IsAdministrator,
		EnableAllFolders: record.EnableAllFolders,
		EnabledFolders:   folders,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, record.ID)
	}
	return nil
}

// List returns every record ordered by username.
func (s *Store) List(ctx context.Context) ([]*auth.UserRecord, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	records := make([]*auth.UserRecord, 0, len(users))
	for i := range users {
		records = append(records, users[i].record())
	}
	return records, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
