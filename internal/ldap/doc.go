/*
Package ldap authenticates users against an LDAP directory for the ldapauth provider.

# Architecture Overview

The package is organized around a Client that dials through a Dialer:

  - Connect: scoped connection builder returning a fully bound Session
  - EvaluateServerTrust: pure certificate trust decision used by the TLS layer
  - Session.Search: search with optional referral chasing
  - FindUser / ResolveUser: map a login name to a directory entry
  - IsAdmin: administrator membership via the admin filter
  - ChangePassword, SearchUsers, TestConnection: maintenance operations

# Configuration

Every operation receives a *DirectoryConfig snapshot. Nothing is read from
global state, so concurrent operations with different configurations are
independent.

# Connections

A Session wraps exactly one connection for one unit of work and callers
close it with defer. Connect closes the connection itself on any failure
after dialing. There is no pooling and no retry.

# Error Handling

Every failure is an *AuthError carrying a Kind. Directory result codes are
categorized through LDAPError and kept in the error chain for logging:

	if errors.Is(err, ldap.ErrUserNotFound) {
		// same user-facing message as ErrInvalidCredentials
	}

# Example Usage

	client := ldap.NewClient(ldap.NewNetDialer(cfg.Timeout))

	identity, err := client.ResolveUser(ctx, cfg, "alice")
	if err != nil {
		return err
	}

	admin, err := client.IsAdmin(ctx, cfg, identity.DN, "alice")
*/
package ldap
