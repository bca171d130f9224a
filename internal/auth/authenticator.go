package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// Login stages, logged as the "stage" field.
const (
	StageServiceBind      = "service_bind"
	StageResolveUser      = "resolve_user"
	StageVerifyCredential = "verify_credential"
	StageAdminCheck       = "admin_check"
	StageReconcile        = "reconcile_user_record"
)

// DefaultResetTTL is how long a password reset link is presented as valid.
const DefaultResetTTL = 30 * time.Minute

// Authenticator verifies logins against the directory and reconciles the
// local user record. It holds no per-login state and is safe for concurrent use.
type Authenticator struct {
	dir      Directory
	store    UserStore
	settings Settings
	now      func() time.Time
}

// NewAuthenticator returns an Authenticator over a copy of settings.
func NewAuthenticator(dir Directory, store UserStore, settings Settings) *Authenticator {
	settings.EnabledFolders = slices.Clone(settings.EnabledFolders)
	settings.Directory.UsernameAttributes = slices.Clone(settings.Directory.UsernameAttributes)
	if settings.ResetTTL <= 0 {
		settings.ResetTTL = DefaultResetTTL
	}

	return &Authenticator{
		dir:      dir,
		store:    store,
		settings: settings,
		now:      time.Now,
	}
}

// Settings returns the configuration snapshot in use.
func (a *Authenticator) Settings() Settings {
	return a.settings
}

// Authenticate verifies username and password against the directory and
// returns the canonical identity. The directory decides the administrator
// flag on every login when admin filtering is enabled.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Outcome, error) {
	cfg := &a.settings.Directory
	ctx = tflog.SubsystemSetField(ctx, ldap.SubsystemAuth, "login", username)

	tflog.SubsystemDebug(ctx, ldap.SubsystemAuth, "Login attempt", map[string]any{"stage": StageServiceBind})
	sess, err := a.dir.Connect(ctx, cfg, cfg.BindDN, cfg.BindPassword, ldap.PurposeService)
	if err != nil {
		return nil, a.fail(ctx, StageServiceBind, err)
	}
	defer sess.Close()

	tflog.SubsystemDebug(ctx, ldap.SubsystemAuth, "Resolving directory entry", map[string]any{"stage": StageResolveUser})
	identity, err := sess.FindUser(ctx, username)
	if err != nil {
		return nil, a.fail(ctx, StageResolveUser, err)
	}
	if identity.Username == "" {
		return nil, a.fail(ctx, StageResolveUser, &ldap.AuthError{
			Kind: ldap.KindMalformedEntry,
			Op:   "auth.Authenticate",
			DN:   identity.DN,
			Err:  fmt.Errorf("entry has no %s attribute", cfg.PrimaryUsernameAttribute),
		})
	}

	tflog.SubsystemDebug(ctx, ldap.SubsystemAuth, "Verifying credentials", map[string]any{
		"stage": StageVerifyCredential,
		"dn":    identity.DN,
	})
	userSess, err := a.dir.Connect(ctx, cfg, identity.DN, password, ldap.PurposeUser)
	if err != nil {
		return nil, a.fail(ctx, StageVerifyCredential, err)
	}
	_ = userSess.Close()

	isAdmin := false
	if cfg.AdminEnabled() {
		tflog.SubsystemDebug(ctx, ldap.SubsystemAuth, "Checking administrator membership", map[string]any{"stage": StageAdminCheck})
		if isAdmin, err = sess.IsAdmin(ctx, identity.DN, username); err != nil {
			return nil, a.fail(ctx, StageAdminCheck, err)
		}
	}
	_ = sess.Close()

	record, err := a.reconcile(ctx, identity.Username, isAdmin, cfg.AdminEnabled())
	if err != nil {
		return nil, a.fail(ctx, StageReconcile, err)
	}

	tflog.SubsystemInfo(ctx, ldap.SubsystemAuth, "Login succeeded", map[string]any{
		"username": identity.Username,
		"dn":       identity.DN,
		"is_admin": record.IsAdministrator,
	})

	return &Outcome{
		Username: identity.Username,
		IsAdmin:  record.IsAdministrator,
		DN:       identity.DN,
		UserID:   record.ID,
	}, nil
}

// reconcile finds or provisions the record for username and brings its
// administrator flag in line with the directory.
func (a *Authenticator) reconcile(ctx context.Context, username string, isAdmin, adminEnabled bool) (*UserRecord, error) {
	const op = "auth.reconcile"

	record, err := a.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, &ldap.AuthError{Kind: ldap.KindUserStoreFailed, Op: op, Err: err}
	}

	if record == nil {
		if !a.settings.CreateUsers {
			return nil, &ldap.AuthError{
				Kind: ldap.KindProvisioningDisabled,
				Op:   op,
				Err:  fmt.Errorf("no local record for %q and user creation is disabled", username),
			}
		}

		initial := &UserRecord{
			Username:         username,
			IsAdministrator:  isAdmin,
			EnableAllFolders: a.settings.EnableAllFolders,
			EnabledFolders:   []string{},
		}
		if !a.settings.EnableAllFolders {
			initial.EnabledFolders = slices.Clone(a.settings.EnabledFolders)
		}

		created, err := a.store.Create(ctx, initial)
		switch {
		case err == nil:
			tflog.SubsystemInfo(ctx, ldap.SubsystemAuth, "Provisioned user record", map[string]any{
				"username":           username,
				"user_id":            created.ID,
				"is_admin":           created.IsAdministrator,
				"enable_all_folders": created.EnableAllFolders,
			})
			return created, nil
		case errors.Is(err, ErrUserExists):
			// a concurrent login provisioned the record first
			tflog.SubsystemDebug(ctx, ldap.SubsystemAuth, "User record created concurrently", map[string]any{
				"username": username,
			})
			if record, err = a.store.FindByUsername(ctx, username); err != nil {
				return nil, &ldap.AuthError{Kind: ldap.KindUserStoreFailed, Op: op, Err: err}
			}
			if record == nil {
				return nil, &ldap.AuthError{
					Kind: ldap.KindUserStoreFailed,
					Op:   op,
					Err:  fmt.Errorf("record for %q reported as existing but not found", username),
				}
			}
		default:
			return nil, &ldap.AuthError{Kind: ldap.KindUserStoreFailed, Op: op, Err: err}
		}
	}

	if adminEnabled && record.IsAdministrator != isAdmin {
		record.IsAdministrator = isAdmin
		if err := a.store.Update(ctx, record); err != nil {
			return nil, &ldap.AuthError{Kind: ldap.KindUserStoreFailed, Op: op, Err: err}
		}
		tflog.SubsystemInfo(ctx, ldap.SubsystemAuth, "Updated administrator flag from directory", map[string]any{
			"username": username,
			"is_admin": isAdmin,
		})
	}

	return record, nil
}

func (a *Authenticator) fail(ctx context.Context, stage string, err error) error {
	fields := map[string]any{
		"stage": stage,
		"error": err.Error(),
	}
	kind := ldap.KindOf(err)
	if kind != ldap.KindUnknown {
		fields["error_kind"] = kind.String()
	}
	tflog.SubsystemWarn(ctx, ldap.SubsystemAuth, "Login failed", fields)

	if kind == ldap.KindUnknown {
		return &ldap.AuthError{Kind: ldap.KindConnectionFailed, Op: "auth.Authenticate", Err: err}
	}
	return err
}

// HasPassword is always true. The directory holds the credential.
func (a *Authenticator) HasPassword(*UserRecord) bool {
	return true
}

// ChangePassword replaces the user's directory password using the service account.
func (a *Authenticator) ChangePassword(ctx context.Context, username, newPassword string) error {
	return ldap.LogOperation(ctx, ldap.SubsystemAuth, "change_password", map[string]any{
		"username": username,
	}, func() error {
		return a.dir.ChangePassword(ctx, &a.settings.Directory, username, newPassword)
	})
}

// SearchUsers lists the DNs matching filter under the base DN.
func (a *Authenticator) SearchUsers(ctx context.Context, filter string) ([]string, error) {
	return a.dir.SearchUsers(ctx, &a.settings.Directory, filter)
}

// TestConnection reports each step of connecting to the directory.
func (a *Authenticator) TestConnection(ctx context.Context) (*ldap.ConnectionReport, error) {
	return a.dir.TestConnection(ctx, &a.settings.Directory)
}
