package ldap

import (
	"context"
	"regexp"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// noAttributes asks the server to return entries without attributes (RFC 4511 4.5.1.8).
const noAttributes = "1.1"

var usernamePlaceholder = regexp.MustCompile(`(?i)\{username\}`)

// SubstituteUsername replaces every {username} placeholder, in any letter
// case, with the filter-escaped username.
func SubstituteUsername(filter, username string) string {
	return usernamePlaceholder.ReplaceAllLiteralString(filter, ldap.EscapeFilter(username))
}

// IsAdmin reports whether entryDN is returned by the admin filter, using a
// fresh service-account session. No connection is made when admin checks
// are disabled.
func (c *Client) IsAdmin(ctx context.Context, cfg *DirectoryConfig, entryDN, username string) (bool, error) {
	if !cfg.AdminEnabled() {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Administrator check disabled", nil)
		return false, nil
	}

	sess, err := c.Connect(ctx, cfg, cfg.BindDN, cfg.BindPassword, PurposeService)
	if err != nil {
		return false, err
	}
	defer sess.Close()

	return sess.IsAdmin(ctx, entryDN, username)
}

// IsAdmin searches the admin base with the admin filter and compares each
// returned DN byte-for-byte with entryDN. username is the name typed at
// login, not the canonical username.
func (s *Session) IsAdmin(ctx context.Context, entryDN, username string) (bool, error) {
	const op = "ldap.IsAdmin"
	cfg := s.cfg

	if !cfg.AdminEnabled() {
		return false, nil
	}

	s.ChaseReferrals(cfg.ReferralHopLimit)

	filter := SubstituteUsername(cfg.AdminFilter, username)
	req := ldap.NewSearchRequest(
		cfg.AdminSearchBase(),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		[]string{noAttributes},
		nil,
	)

	result, err := s.Search(ctx, req)
	if err != nil {
		ae := NewAuthError(KindAdminCheckFailed, op, err)
		ae.DN = entryDN
		return false, ae
	}

	for _, entry := range result.Entries {
		if entry.DN == entryDN {
			tflog.SubsystemDebug(ctx, SubsystemLDAP, "User is a directory administrator", map[string]any{
				"dn": entryDN,
			})
			return true, nil
		}
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "User is not a directory administrator", map[string]any{
		"dn":      entryDN,
		"matches": len(result.Entries),
	})
	return false, nil
}
