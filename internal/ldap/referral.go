package ldap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ChaseReferrals makes Search follow referrals up to limit hops, re-binding
// at each referred server with this session's credentials.
func (s *Session) ChaseReferrals(limit int) {
	s.chase = true
	s.hopLimit = limit
}

// Search runs req on the session, following referrals when chasing is on.
func (s *Session) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return s.search(ctx, req, 0)
}

func (s *Session) search(ctx context.Context, req *ldap.SearchRequest, hop int) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"server":     s.endpoint.URL(),
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"hop":        hop,
	}
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Starting search operation", fields)

	result, err := s.conn.Search(req)
	if err != nil {
		urls := referralURLs(err)
		if !s.chase || len(urls) == 0 {
			LogLDAPError(ctx, SubsystemLDAP, "search", err, fields)
			return nil, err
		}
		return s.followReferral(ctx, urls, req, hop)
	}

	if s.chase && len(result.Referrals) > 0 {
		for _, ref := range result.Referrals {
			referred, err := s.followReferral(ctx, []string{ref}, req, hop)
			if err != nil {
				return nil, err
			}
			result.Entries = append(result.Entries, referred.Entries...)
		}
		result.Referrals = nil
	}

	fields["entries_found"] = len(result.Entries)
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Search operation completed successfully", fields)

	return result, nil
}

// followReferral tries each URL in turn and returns the first successful result.
func (s *Session) followReferral(ctx context.Context, urls []string, req *ldap.SearchRequest, hop int) (*ldap.SearchResult, error) {
	if hop >= s.hopLimit {
		return nil, ldap.NewError(ldap.LDAPResultReferralLimitExceeded,
			fmt.Errorf("referral hop limit %d exceeded", s.hopLimit))
	}

	var errs *multierror.Error
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ep, baseDN, err := parseReferral(raw, s.cfg)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		LogConnectionEvent(ctx, "referral_followed", map[string]any{
			"referral": raw,
			"hop":      hop + 1,
		})

		referred, err := s.client.connect(ctx, s.cfg, ep, s.bindDN, s.password, s.purpose)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("following referral %s: %w", raw, err))
			continue
		}
		referred.ChaseReferrals(s.hopLimit)

		next := *req
		if baseDN != "" {
			next.BaseDN = baseDN
		}

		result, err := referred.search(ctx, &next, hop+1)
		_ = referred.Close()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("searching referral %s: %w", raw, err))
			continue
		}
		return result, nil
	}

	if errs == nil {
		return nil, fmt.Errorf("referral without usable URLs")
	}
	return nil, errs.ErrorOrNil()
}

// parseReferral turns an LDAP URL into an endpoint and optional base DN.
// Plain ldap referrals keep StartTLS when the session was configured for it.
func parseReferral(raw string, cfg *DirectoryConfig) (endpoint, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, "", fmt.Errorf("invalid referral URL %q: %w", raw, err)
	}

	ep := endpoint{scheme: strings.ToLower(u.Scheme), host: u.Hostname()}
	switch ep.scheme {
	case "ldap":
		ep.port = 389
		ep.startTLS = cfg.TLSMode == TLSModeStartTLS
	case "ldaps":
		ep.port = 636
	default:
		return endpoint{}, "", fmt.Errorf("unsupported referral scheme in %q", raw)
	}
	if ep.host == "" {
		return endpoint{}, "", fmt.Errorf("referral URL %q has no host", raw)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return endpoint{}, "", fmt.Errorf("invalid port in referral URL %q: %w", raw, err)
		}
		ep.port = port
	}

	return ep, strings.TrimPrefix(u.Path, "/"), nil
}

// referralURLs extracts the referral URIs carried by a referral result.
func referralURLs(err error) []string {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) || ldapErr.ResultCode != ldap.LDAPResultReferral || ldapErr.Packet == nil {
		return nil
	}

	packet := ldapErr.Packet
	if len(packet.Children) < 2 || len(packet.Children[1].Children) < 4 {
		return nil
	}

	referral := packet.Children[1].Children[3]
	if referral.ClassType != ber.ClassContext || referral.Tag != 3 {
		return nil
	}

	urls := make([]string, 0, len(referral.Children))
	for _, child := range referral.Children {
		if s := packetString(child); s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}

func packetString(p *ber.Packet) string {
	if s, ok := p.Value.(string); ok && s != "" {
		return s
	}
	if p.Data != nil {
		return p.Data.String()
	}
	return string(p.ByteValue)
}
