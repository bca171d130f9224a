package ldap

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ChangePassword replaces the password attribute on the entry resolved for
// username. The write is made with the service account.
func (c *Client) ChangePassword(ctx context.Context, cfg *DirectoryConfig, username, newPassword string) error {
	const op = "ldap.ChangePassword"

	if !cfg.AllowPasswordChange {
		return &AuthError{Kind: KindNotSupported, Op: op, Err: fmt.Errorf("password changes are disabled")}
	}
	if cfg.PasswordAttribute == "" {
		return &AuthError{Kind: KindMisconfigured, Op: op, Err: fmt.Errorf("password attribute is not configured")}
	}

	identity, err := c.ResolveUser(ctx, cfg, username)
	if err != nil {
		return err
	}

	sess, err := c.Connect(ctx, cfg, cfg.BindDN, cfg.BindPassword, PurposeService)
	if err != nil {
		return err
	}
	defer sess.Close()

	req := ldap.NewModifyRequest(identity.DN, nil)
	req.Replace(cfg.PasswordAttribute, []string{newPassword})

	fields := map[string]any{
		"dn":        identity.DN,
		"attribute": cfg.PasswordAttribute,
	}
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Replacing password attribute", fields)

	if err := sess.Modify(ctx, req); err != nil {
		LogLDAPError(ctx, SubsystemLDAP, "modify", err, fields)
		ae := NewAuthError(KindConnectionFailed, op, err)
		ae.DN = identity.DN
		return ae
	}

	tflog.SubsystemInfo(ctx, SubsystemLDAP, "Password changed", fields)
	return nil
}
