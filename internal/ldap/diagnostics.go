package ldap

import (
	"context"
	"crypto/tls"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Connection check step states.
const (
	StepNotStarted = "not started"
	StepSuccess    = "success"
)

// ConnectionReport is the outcome of TestConnection, one entry per step.
// A failed step holds the error message and later steps stay not started.
type ConnectionReport struct {
	Connect    string
	StartTLS   string
	Bind       string
	BaseSearch string
	EntryCount int
}

// Succeeded reports whether every attempted step passed.
func (r *ConnectionReport) Succeeded() bool {
	for _, step := range []string{r.Connect, r.Bind, r.BaseSearch} {
		if step != StepSuccess {
			return false
		}
	}
	return r.StartTLS == StepSuccess || r.StartTLS == StepNotStarted
}

// TestConnection walks through connect, StartTLS, service bind and a base
// search, recording each step. It only fails for configuration errors; the
// directory's own failures are reported in the returned report.
func (c *Client) TestConnection(ctx context.Context, cfg *DirectoryConfig) (*ConnectionReport, error) {
	report := &ConnectionReport{
		Connect:    StepNotStarted,
		StartTLS:   StepNotStarted,
		Bind:       StepNotStarted,
		BaseSearch: StepNotStarted,
	}
	ep := cfg.endpoint()

	var tlsConfig *tls.Config
	if ep.scheme == "ldaps" || ep.startTLS {
		var err error
		if tlsConfig, err = BuildTLSConfig(ctx, cfg, ep.host); err != nil {
			return nil, err
		}
	}

	var dialTLS *tls.Config
	if ep.scheme == "ldaps" {
		dialTLS = tlsConfig
	}
	conn, err := c.dialer.DialURL(ctx, ep.URL(), dialTLS)
	if err != nil {
		report.Connect = err.Error()
		return report, nil
	}
	defer conn.Close()
	report.Connect = StepSuccess

	if ep.startTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			report.StartTLS = err.Error()
			return report, nil
		}
		report.StartTLS = StepSuccess
	}

	if cfg.BindDN == "" && cfg.BindPassword == "" {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(cfg.BindDN, cfg.BindPassword)
	}
	if err != nil {
		report.Bind = err.Error()
		return report, nil
	}
	report.Bind = StepSuccess

	req := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		"(objectClass=*)",
		[]string{noAttributes},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		report.BaseSearch = err.Error()
		return report, nil
	}
	report.BaseSearch = StepSuccess
	report.EntryCount = len(result.Entries)

	tflog.SubsystemInfo(ctx, SubsystemLDAP, "Directory connection check completed", map[string]any{
		"server":      ep.URL(),
		"entry_count": report.EntryCount,
	})

	return report, nil
}

// SearchUsers returns the DNs of entries under the base DN matching filter,
// or the configured search filter when filter is empty.
func (c *Client) SearchUsers(ctx context.Context, cfg *DirectoryConfig, filter string) ([]string, error) {
	const op = "ldap.SearchUsers"

	if filter == "" {
		filter = cfg.SearchFilter
	}

	sess, err := c.Connect(ctx, cfg, cfg.BindDN, cfg.BindPassword, PurposeService)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	sess.ChaseReferrals(cfg.ReferralHopLimit)

	req := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		[]string{noAttributes},
		nil,
	)
	result, err := sess.Search(ctx, req)
	if err != nil {
		return nil, NewAuthError(KindConnectionFailed, op, err)
	}

	dns := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		dns = append(dns, entry.DN)
	}
	return dns, nil
}
