package auth

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var (
	userIDPlaceholder   = regexp.MustCompile(`(?i)\$userId`)
	userNamePlaceholder = regexp.MustCompile(`(?i)\$userName`)
)

// ResetURL substitutes $userId and $userName, in any letter case, into
// template. Values are query-escaped.
func ResetURL(template, userID, username string) (string, error) {
	const op = "auth.ResetURL"

	if strings.TrimSpace(template) == "" {
		return "", &ldap.AuthError{Kind: ldap.KindNotSupported, Op: op, Err: fmt.Errorf("no password reset URL is configured")}
	}

	out := userIDPlaceholder.ReplaceAllLiteralString(template, url.QueryEscape(userID))
	out = userNamePlaceholder.ReplaceAllLiteralString(out, url.QueryEscape(username))
	return out, nil
}

// StartPasswordReset points the user at the configured reset page. The
// directory does not issue reset pins, so nothing is sent or stored.
func (a *Authenticator) StartPasswordReset(ctx context.Context, username string) (*ResetInstruction, error) {
	const op = "auth.StartPasswordReset"

	if strings.TrimSpace(a.settings.PasswordResetURL) == "" {
		return nil, &ldap.AuthError{Kind: ldap.KindNotSupported, Op: op, Err: fmt.Errorf("no password reset URL is configured")}
	}

	record, err := a.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, &ldap.AuthError{Kind: ldap.KindUserStoreFailed, Op: op, Err: err}
	}
	if record == nil {
		return nil, &ldap.AuthError{Kind: ldap.KindUserNotFound, Op: op, Err: fmt.Errorf("no local record for %q", username)}
	}

	link, err := ResetURL(a.settings.PasswordResetURL, record.ID, record.Username)
	if err != nil {
		return nil, err
	}

	instruction := &ResetInstruction{
		URL:       link,
		Action:    ActionInNetworkRequired,
		ExpiresAt: a.now().Add(a.settings.ResetTTL),
	}

	tflog.SubsystemInfo(ctx, ldap.SubsystemAuth, "Password reset started", map[string]any{
		"username":   record.Username,
		"user_id":    record.ID,
		"expires_at": instruction.ExpiresAt,
	})

	return instruction, nil
}

// RedeemResetPin always fails. Directory accounts have no reset pins.
func (a *Authenticator) RedeemResetPin(_ context.Context, _ string) error {
	return &ldap.AuthError{Kind: ldap.KindNotSupported, Op: "auth.RedeemResetPin", Err: fmt.Errorf("reset pins are not supported for directory accounts")}
}
