// Package auth runs directory-backed logins and keeps the local user record
// in step with the directory.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/creasty/defaults"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Settings is the configuration snapshot for one Authenticator.
type Settings struct {
	Directory ldap.DirectoryConfig

	// CreateUsers provisions a local record on first login.
	CreateUsers bool
	// EnableAllFolders is the folder default for provisioned records.
	EnableAllFolders bool
	// EnabledFolders is used when EnableAllFolders is false.
	EnabledFolders []string `default:"[]"`
	// PasswordResetURL may contain $userId and $userName placeholders.
	PasswordResetURL string

	ResetTTL time.Duration `default:"30m"`
}

// ApplyDefaults fills unset fields, including the directory configuration.
func (s *Settings) ApplyDefaults() error {
	if err := defaults.Set(s); err != nil {
		return err
	}
	return s.Directory.ApplyDefaults()
}

// UserRecord is the local account for a directory user.
type UserRecord struct {
	ID               string
	Username         string
	IsAdministrator  bool
	EnableAllFolders bool
	EnabledFolders   []string
}

// ErrUserExists is wrapped by UserStore.Create when a record for the
// username is already stored.
var ErrUserExists = errors.New("username already exists")

// UserStore persists user records. FindByUsername returns nil and no error
// when no record exists. Create stores record in a single write, assigns
// its ID and returns the stored copy.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	Create(ctx context.Context, record *UserRecord) (*UserRecord, error)
	Update(ctx context.Context, record *UserRecord) error
}

// Directory is the set of directory operations used by the Authenticator.
// *ldap.Client implements it.
type Directory interface {
	Connect(ctx context.Context, cfg *ldap.DirectoryConfig, bindDN, password string, purpose ldap.Purpose) (*ldap.Session, error)
	ChangePassword(ctx context.Context, cfg *ldap.DirectoryConfig, username, newPassword string) error
	SearchUsers(ctx context.Context, cfg *ldap.DirectoryConfig, filter string) ([]string, error)
	TestConnection(ctx context.Context, cfg *ldap.DirectoryConfig) (*ldap.ConnectionReport, error)
}

// Outcome is the result of a successful login.
type Outcome struct {
	Username string // Canonical username from the primary attribute
	IsAdmin  bool
	DN       string
	UserID   string
}

// ResetAction tells the host what the user must do to finish a reset.
type ResetAction string

const ActionInNetworkRequired ResetAction = "in_network_required"

// ResetInstruction is returned by StartPasswordReset.
type ResetInstruction struct {
	URL       string
	Action    ResetAction
	ExpiresAt time.Time
}
