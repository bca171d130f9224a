package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// binaryAttributes are decoded to their string form before they are compared
// or used as a canonical username.
var binaryAttributes = map[string]func([]byte) (string, error){
	"objectsid":  SIDString,
	"objectguid": GUIDString,
}

// ResolveUser finds the directory entry for a login name using a fresh
// service-account session.
func (c *Client) ResolveUser(ctx context.Context, cfg *DirectoryConfig, username string) (*ResolvedIdentity, error) {
	sess, err := c.Connect(ctx, cfg, cfg.BindDN, cfg.BindPassword, PurposeService)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.FindUser(ctx, username)
}

// FindUser searches the base DN with the configured filter and returns the
// first entry with a username attribute value matching username. Entries are
// scanned in result order, attributes in configured order, values in
// attribute order.
//
// When the matched entry lacks the primary username attribute the identity
// is returned with an empty Username and a warning is logged.
func (s *Session) FindUser(ctx context.Context, username string) (*ResolvedIdentity, error) {
	const op = "ldap.FindUser"
	cfg := s.cfg

	s.ChaseReferrals(cfg.ReferralHopLimit)

	req := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		cfg.SearchFilter,
		cfg.searchAttributes(),
		nil,
	)

	result, err := s.Search(ctx, req)
	if err != nil {
		return nil, NewAuthError(KindConnectionFailed, op, err)
	}

	entry := matchEntry(result.Entries, cfg, username)
	if entry == nil {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "No directory entry matched username", map[string]any{
			"username":         username,
			"entries_searched": len(result.Entries),
			"case_insensitive": cfg.CaseInsensitive,
		})
		return nil, &AuthError{
			Kind: KindUserNotFound,
			Op:   op,
			Err:  fmt.Errorf("no entry under %q matching %q has username %q", cfg.BaseDN, cfg.SearchFilter, username),
		}
	}

	identity := &ResolvedIdentity{DN: entry.DN, Entry: entry}

	values := attributeValues(entry, cfg.PrimaryUsernameAttribute)
	if len(values) == 0 || values[0] == "" {
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Matched entry has no primary username attribute", map[string]any{
			"dn":        entry.DN,
			"attribute": cfg.PrimaryUsernameAttribute,
		})
		return identity, nil
	}
	identity.Username = values[0]

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Resolved directory user", map[string]any{
		"username": username,
		"dn":       identity.DN,
		"name":     identity.Username,
	})

	return identity, nil
}

func matchEntry(entries []*ldap.Entry, cfg *DirectoryConfig, username string) *ldap.Entry {
	for _, entry := range entries {
		for _, attr := range cfg.UsernameAttributes {
			for _, value := range attributeValues(entry, attr) {
				if usernamesEqual(value, username, cfg.CaseInsensitive) {
					return entry
				}
			}
		}
	}
	return nil
}

func usernamesEqual(a, b string, caseInsensitive bool) bool {
	if caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// attributeValues returns the values of the named attribute, matching the
// name case-insensitively and decoding known binary attributes.
func attributeValues(entry *ldap.Entry, name string) []string {
	decode := binaryAttributes[strings.ToLower(name)]

	var values []string
	for _, attr := range entry.Attributes {
		if !strings.EqualFold(attr.Name, name) {
			continue
		}
		if decode == nil {
			values = append(values, attr.Values...)
			continue
		}
		for _, raw := range attr.ByteValues {
			if s, err := decode(raw); err == nil {
				values = append(values, s)
			}
		}
	}
	return values
}
