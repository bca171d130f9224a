package ldap

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/tlsutil"
)

// AdminFilterDisabled is the admin filter value that turns administrator detection off.
const AdminFilterDisabled = "_disabled_"

// DefaultReferralHopLimit bounds how many referral hops a single search may follow.
const DefaultReferralHopLimit = 10

// TLSMode selects how the transport to the directory is secured.
type TLSMode string

const (
	TLSModeNone     TLSMode = "none"
	TLSModeLDAPS    TLSMode = "ldaps"
	TLSModeStartTLS TLSMode = "starttls"
)

// TLSModes lists the accepted TLS mode values.
func TLSModes() []string {
	return []string{string(TLSModeNone), string(TLSModeLDAPS), string(TLSModeStartTLS)}
}

// ParseTLSMode converts a case-insensitive string to a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case TLSModeNone, TLSModeLDAPS, TLSModeStartTLS:
		return mode, nil
	case "":
		return TLSModeNone, nil
	default:
		return "", fmt.Errorf("unknown TLS mode %q, expected one of %s", s, strings.Join(TLSModes(), ", "))
	}
}

// DirectoryConfig is an immutable snapshot of everything needed to talk to the
// directory for one operation. Callers must not mutate a config that is in use.
type DirectoryConfig struct {
	// Transport
	Host           string        // Directory server host name or address
	Port           int           // Directory server port (0 selects 389 or 636 from TLSMode)
	TLSMode        TLSMode       `default:"none"`
	SkipVerify     bool          // Accept any server certificate
	CACertFile     string        // PEM bundle of trusted roots; enables custom CA trust
	ClientCertFile string        // PEM client certificate offered during the handshake
	ClientKeyFile  string        // PEM private key for ClientCertFile
	TLSMinVersion  string        `default:"tls12"`
	Timeout        time.Duration `default:"30s"`

	// Service account
	BindDN       string
	BindPassword string

	// User search
	BaseDN                   string
	SearchFilter             string   `default:"(objectClass=person)"`
	UsernameAttributes       []string `default:"[\"uid\",\"cn\",\"mail\",\"displayName\"]"`
	PrimaryUsernameAttribute string   `default:"cn"`
	CaseInsensitive          bool

	// Administrator detection
	AdminBaseDN string
	AdminFilter string `default:"_disabled_"`

	// Credential maintenance
	PasswordAttribute   string `default:"userPassword"`
	AllowPasswordChange bool

	ReferralHopLimit int `default:"10"`
}

// DefaultConfig returns a configuration populated with defaults only.
func DefaultConfig() *DirectoryConfig {
	cfg := &DirectoryConfig{}
	_ = defaults.Set(cfg)
	return cfg
}

// ApplyDefaults fills unset fields from the struct tag defaults.
func (c *DirectoryConfig) ApplyDefaults() error {
	return defaults.Set(c)
}

// AdminEnabled reports whether administrator detection is configured.
func (c *DirectoryConfig) AdminEnabled() bool {
	filter := strings.TrimSpace(c.AdminFilter)
	return filter != "" && filter != AdminFilterDisabled
}

// AdminSearchBase returns the admin search base, falling back to the user base DN.
func (c *DirectoryConfig) AdminSearchBase() string {
	if strings.TrimSpace(c.AdminBaseDN) != "" {
		return c.AdminBaseDN
	}
	return c.BaseDN
}

// EffectivePort resolves an unset port from the TLS mode.
func (c *DirectoryConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.TLSMode == TLSModeLDAPS {
		return 636
	}
	return 389
}

// URL returns the dial URL for the configured server.
func (c *DirectoryConfig) URL() string {
	return c.endpoint().URL()
}

func (c *DirectoryConfig) endpoint() endpoint {
	scheme := "ldap"
	if c.TLSMode == TLSModeLDAPS {
		scheme = "ldaps"
	}
	return endpoint{
		scheme:   scheme,
		host:     c.Host,
		port:     c.EffectivePort(),
		startTLS: c.TLSMode == TLSModeStartTLS,
	}
}

// searchAttributes is the attribute list requested by user searches. The
// primary attribute is appended when the operator left it out of the list.
func (c *DirectoryConfig) searchAttributes() []string {
	attrs := make([]string, 0, len(c.UsernameAttributes)+1)
	attrs = append(attrs, c.UsernameAttributes...)
	for _, a := range attrs {
		if strings.EqualFold(a, c.PrimaryUsernameAttribute) {
			return attrs
		}
	}
	return append(attrs, c.PrimaryUsernameAttribute)
}

// Validate checks the configuration and reports every problem found.
func (c *DirectoryConfig) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.Host) == "" {
		result = multierror.Append(result, fmt.Errorf("host is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port %d is out of range", c.Port))
	}
	if _, err := ParseTLSMode(string(c.TLSMode)); err != nil {
		result = multierror.Append(result, err)
	}
	if c.TLSMinVersion != "" {
		if _, ok := tlsutil.TLSLookup[c.TLSMinVersion]; !ok {
			result = multierror.Append(result, fmt.Errorf("invalid TLS minimum version %q", c.TLSMinVersion))
		}
	}
	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		result = multierror.Append(result, fmt.Errorf("client certificate and client key must be configured together"))
	}

	if strings.TrimSpace(c.BaseDN) == "" {
		result = multierror.Append(result, fmt.Errorf("base DN is required"))
	} else if _, err := ldap.ParseDN(c.BaseDN); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid base DN %q: %w", c.BaseDN, err))
	}
	if c.AdminBaseDN != "" {
		if _, err := ldap.ParseDN(c.AdminBaseDN); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid admin base DN %q: %w", c.AdminBaseDN, err))
		}
	}

	if _, err := ldap.CompileFilter(c.SearchFilter); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid search filter %q: %w", c.SearchFilter, err))
	}
	if c.AdminEnabled() {
		if _, err := ldap.CompileFilter(SubstituteUsername(c.AdminFilter, "username")); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid admin filter %q: %w", c.AdminFilter, err))
		}
	}

	if len(c.UsernameAttributes) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one username attribute is required"))
	}
	if strings.TrimSpace(c.PrimaryUsernameAttribute) == "" {
		result = multierror.Append(result, fmt.Errorf("primary username attribute is required"))
	}
	if c.ReferralHopLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("referral hop limit must not be negative"))
	}

	return result.ErrorOrNil()
}

// ParseAttributeList splits a comma-separated attribute list, ignoring
// surrounding whitespace and empty elements.
func ParseAttributeList(s string) []string {
	var attrs []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			attrs = append(attrs, part)
		}
	}
	return attrs
}

// Purpose records why a connection is being bound, which decides the error
// kind reported when binding fails.
type Purpose int

const (
	PurposeService Purpose = iota // Bind as the configured service account
	PurposeUser                   // Verify a user's credentials
)

func (p Purpose) String() string {
	switch p {
	case PurposeService:
		return "service"
	case PurposeUser:
		return "user"
	default:
		return "unknown"
	}
}

// failureKind maps a failed connection to the error kind for this purpose.
func (p Purpose) failureKind() Kind {
	if p == PurposeUser {
		return KindInvalidCredentials
	}
	return KindConnectionFailed
}

// ResolvedIdentity is the directory entry matched for a login name.
type ResolvedIdentity struct {
	DN       string      // Distinguished name of the matched entry
	Username string      // Canonical username; empty when the primary attribute is absent
	Entry    *ldap.Entry // Matched entry as returned by the directory
}

type endpoint struct {
	scheme   string
	host     string
	port     int
	startTLS bool
}

func (e endpoint) URL() string {
	return fmt.Sprintf("%s://%s", e.scheme, net.JoinHostPort(e.host, strconv.Itoa(e.port)))
}
