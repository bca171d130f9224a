package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Conn is the subset of a directory connection used by this package.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	StartTLS(config *tls.Config) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Close() error
}

// Dialer opens directory connections. The TLS config is only passed for
// ldaps URLs.
type Dialer interface {
	DialURL(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)
}

// NetDialer dials real directory servers with go-ldap.
type NetDialer struct {
	Timeout time.Duration
}

// NewNetDialer returns a dialer applying timeout to the dial and every request.
func NewNetDialer(timeout time.Duration) *NetDialer {
	return &NetDialer{Timeout: timeout}
}

func (d *NetDialer) DialURL(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: d.Timeout})}
	if tlsConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(addr, opts...)
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		conn.SetTimeout(d.Timeout)
	}

	return &netConn{conn: conn}, nil
}

type netConn struct {
	conn *ldap.Conn
}

func (c *netConn) Bind(username, password string) error { return c.conn.Bind(username, password) }

func (c *netConn) UnauthenticatedBind(username string) error {
	return c.conn.UnauthenticatedBind(username)
}

func (c *netConn) StartTLS(config *tls.Config) error { return c.conn.StartTLS(config) }

func (c *netConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return c.conn.Search(req)
}

func (c *netConn) Modify(req *ldap.ModifyRequest) error { return c.conn.Modify(req) }

func (c *netConn) Close() error {
	return c.conn.Close()
}

// Client performs directory operations. Every operation acquires its own
// connections and releases them before returning.
type Client struct {
	dialer Dialer
}

// NewClient creates a client that dials through dialer.
func NewClient(dialer Dialer) *Client {
	return &Client{dialer: dialer}
}

// Session is a bound connection scoped to one unit of work.
type Session struct {
	client   *Client
	cfg      *DirectoryConfig
	conn     Conn
	endpoint endpoint
	bindDN   string
	password string
	purpose  Purpose
	hopLimit int
	chase    bool
}

// Connect dials the configured server, secures the transport according to
// the TLS mode and performs a simple bind. The returned session is fully
// bound; on error every resource acquired so far has been released.
//
// A bind failure is reported as KindConnectionFailed for PurposeService and
// KindInvalidCredentials for PurposeUser. An empty bindDN with an empty
// password performs an anonymous bind.
func (c *Client) Connect(ctx context.Context, cfg *DirectoryConfig, bindDN, password string, purpose Purpose) (*Session, error) {
	return c.connect(ctx, cfg, cfg.endpoint(), bindDN, password, purpose)
}

func (c *Client) connect(ctx context.Context, cfg *DirectoryConfig, ep endpoint, bindDN, password string, purpose Purpose) (*Session, error) {
	const op = "ldap.Connect"
	start := time.Now()

	fields := map[string]any{
		"server":  ep.URL(),
		"bind_dn": bindDN,
		"purpose": purpose.String(),
	}

	fail := func(stage string, conn Conn, err error) (*Session, error) {
		if conn != nil {
			_ = conn.Close()
		}
		fields["stage"] = stage
		fields["duration_ms"] = time.Since(start).Milliseconds()
		fields["credentials_rejected"] = IsAuthenticationError(err)
		LogLDAPError(ctx, SubsystemLDAP, stage, err, fields)
		LogConnectionEvent(ctx, "connection_failed", fields)
		ae := NewAuthError(purpose.failureKind(), op, err)
		ae.DN = bindDN
		return nil, ae
	}

	if err := ctx.Err(); err != nil {
		return fail("dial", nil, err)
	}
	if purpose == PurposeUser && password == "" {
		// User verification never degrades to an anonymous bind.
		return fail("bind", nil, ldap.NewError(ldap.ErrorEmptyPassword, fmt.Errorf("empty password")))
	}

	var tlsConfig *tls.Config
	if ep.scheme == "ldaps" || ep.startTLS {
		var err error
		tlsConfig, err = BuildTLSConfig(ctx, cfg, ep.host)
		if err != nil {
			return nil, err
		}
	}

	LogConnectionEvent(ctx, "connection_attempt", fields)

	var dialTLS *tls.Config
	if ep.scheme == "ldaps" {
		dialTLS = tlsConfig
	}
	conn, err := c.dialer.DialURL(ctx, ep.URL(), dialTLS)
	if err != nil {
		return fail("dial", nil, err)
	}

	if ep.startTLS {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Upgrading connection with StartTLS", fields)
		if err := conn.StartTLS(tlsConfig); err != nil {
			return fail("start_tls", conn, err)
		}
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Binding to directory", map[string]any{
		"bind_dn": bindDN,
		"purpose": purpose.String(),
	})
	if bindDN == "" && password == "" {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(bindDN, password)
	}
	if err != nil {
		return fail("bind", conn, err)
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()
	LogConnectionEvent(ctx, "connection_established", fields)

	return &Session{
		client:   c,
		cfg:      cfg,
		conn:     conn,
		endpoint: ep,
		bindDN:   bindDN,
		password: password,
		purpose:  purpose,
		hopLimit: cfg.ReferralHopLimit,
	}, nil
}

// Close releases the session's connection.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Modify applies req on the session's connection.
func (s *Session) Modify(ctx context.Context, req *ldap.ModifyRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.conn.Modify(req)
}
