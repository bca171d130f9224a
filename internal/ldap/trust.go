package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/hashicorp/go-secure-stdlib/tlsutil"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// TrustMode selects how a server certificate chain is judged.
type TrustMode int

const (
	TrustDefault    TrustMode = iota // Platform trust store
	TrustSkipVerify                  // Accept anything
	TrustCustomCA                    // Operator-supplied roots only
)

func (m TrustMode) String() string {
	switch m {
	case TrustSkipVerify:
		return "skip_verify"
	case TrustCustomCA:
		return "custom_ca"
	default:
		return "default"
	}
}

// TrustPolicy is the explicit input to EvaluateServerTrust.
type TrustPolicy struct {
	Mode   TrustMode
	Roots  *x509.CertPool // Used by TrustCustomCA, and by TrustDefault when non-nil
	CAFile string         // Source of Roots, for logging
}

// TrustPolicyFor derives the trust policy from the configuration, loading the
// CA bundle when one is configured. Skip-verify wins over a CA file.
func TrustPolicyFor(cfg *DirectoryConfig) (TrustPolicy, error) {
	const op = "ldap.TrustPolicyFor"

	switch {
	case cfg.SkipVerify:
		return TrustPolicy{Mode: TrustSkipVerify}, nil
	case cfg.CACertFile != "":
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return TrustPolicy{}, NewAuthError(KindMisconfigured, op, fmt.Errorf("reading CA file: %w", err))
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return TrustPolicy{}, NewAuthError(KindMisconfigured, op, fmt.Errorf("no certificates found in CA file %s", cfg.CACertFile))
		}
		return TrustPolicy{Mode: TrustCustomCA, Roots: pool, CAFile: cfg.CACertFile}, nil
	default:
		return TrustPolicy{Mode: TrustDefault}, nil
	}
}

// EvaluateServerTrust decides whether the presented chain is acceptable for
// host under policy. Revocation status is never consulted.
func EvaluateServerTrust(ctx context.Context, host string, chain []*x509.Certificate, policy TrustPolicy) error {
	fields := map[string]any{
		"host":        host,
		"trust_mode":  policy.Mode.String(),
		"chain_depth": len(chain),
	}

	switch policy.Mode {
	case TrustSkipVerify:
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Accepting server certificate without verification, connection is insecure", fields)
		return nil

	case TrustCustomCA:
		fields["ca_file"] = policy.CAFile
		for i, cert := range chain {
			tflog.SubsystemWarn(ctx, SubsystemLDAP, "Server certificate chain element", map[string]any{
				"host":       host,
				"index":      i,
				"subject":    cert.Subject.String(),
				"issuer":     cert.Issuer.String(),
				"serial":     cert.SerialNumber.String(),
				"not_before": cert.NotBefore.UTC().String(),
				"not_after":  cert.NotAfter.UTC().String(),
			})
		}
		if len(chain) == 0 {
			tflog.SubsystemError(ctx, SubsystemLDAP, "Server presented no certificate", fields)
			return fmt.Errorf("server %s presented no certificate", host)
		}
		if err := chain[0].VerifyHostname(host); err != nil {
			fields["error"] = err.Error()
			tflog.SubsystemError(ctx, SubsystemLDAP, "Server certificate does not match host", fields)
			return fmt.Errorf("server certificate name mismatch: %w", err)
		}
		return verifyChain(chain, policy.Roots)

	default:
		if len(chain) == 0 {
			return fmt.Errorf("server %s presented no certificate", host)
		}
		if err := chain[0].VerifyHostname(host); err != nil {
			return fmt.Errorf("server certificate name mismatch: %w", err)
		}
		return verifyChain(chain, policy.Roots)
	}
}

func verifyChain(chain []*x509.Certificate, roots *x509.CertPool) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return fmt.Errorf("server certificate chain is not trusted: %w", err)
	}
	return nil
}

// BuildTLSConfig assembles the TLS client configuration for host. Custom CA
// and skip-verify trust are enforced through VerifyConnection so that the
// decision always goes through EvaluateServerTrust.
func BuildTLSConfig(ctx context.Context, cfg *DirectoryConfig, host string) (*tls.Config, error) {
	const op = "ldap.BuildTLSConfig"

	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSMinVersion != "" {
		minVersion, ok := tlsutil.TLSLookup[cfg.TLSMinVersion]
		if !ok {
			return nil, NewAuthError(KindMisconfigured, op, fmt.Errorf("invalid TLS minimum version %q", cfg.TLSMinVersion))
		}
		tlsConfig.MinVersion = minVersion
	}

	policy, err := TrustPolicyFor(cfg)
	if err != nil {
		return nil, err
	}
	if policy.Mode != TrustDefault {
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return EvaluateServerTrust(ctx, host, cs.PeerCertificates, policy)
		}
	}

	switch {
	case cfg.ClientCertFile != "" && cfg.ClientKeyFile != "":
		certificate, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, NewAuthError(KindMisconfigured, op, fmt.Errorf("loading client key pair: %w", err))
		}
		tlsConfig.Certificates = append(tlsConfig.Certificates, certificate)
	case cfg.ClientCertFile != "" || cfg.ClientKeyFile != "":
		return nil, NewAuthError(KindMisconfigured, op, fmt.Errorf("both client certificate and client key must be set"))
	}

	return tlsConfig, nil
}
