// Package ldaptest provides an in-memory directory that implements the
// ldap.Dialer seam for unit tests.
package ldaptest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	ber "github.com/go-asn1-ber/asn1-ber"
	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// MatchAll is the filter that matches every entry without a Filters mapping.
const MatchAll = "(objectClass=*)"

// Server is one fake directory server.
type Server struct {
	// Entries held by the server, returned in this order.
	Entries []*goldap.Entry
	// Passwords maps a DN to the password accepted for it.
	Passwords map[string]string
	// Filters maps a filter string to the DNs it matches. Unmapped filters
	// other than MatchAll match nothing.
	Filters map[string][]string
	// Referrals maps a base DN to referral URLs returned with result code 10.
	Referrals map[string][]string
	// Continuations maps a base DN to search continuation references.
	Continuations map[string][]string
	// PasswordAttribute, when set, makes a Replace of that attribute update Passwords.
	PasswordAttribute string
	// AllowAnonymous accepts an empty DN with an empty password.
	AllowAnonymous bool
	// RequireTLS rejects binds on connections that are not protected by TLS.
	RequireTLS bool
	// Certificates is the chain presented during TLS handshakes.
	Certificates []*x509.Certificate

	DialErr     error
	StartTLSErr error
	SearchErr   error
	ModifyErr   error
}

// NewServer returns a server holding entries.
func NewServer(entries ...*goldap.Entry) *Server {
	return &Server{
		Entries:       entries,
		Passwords:     map[string]string{},
		Filters:       map[string][]string{},
		Referrals:     map[string][]string{},
		Continuations: map[string][]string{},
	}
}

// Entry builds a directory entry.
func Entry(dn string, attrs map[string][]string) *goldap.Entry {
	return goldap.NewEntry(dn, attrs)
}

// Modification records one modify request.
type Modification struct {
	Addr    string
	DN      string
	Changes []goldap.Change
}

// Directory routes dials to fake servers by host:port and records activity.
type Directory struct {
	mu      sync.Mutex
	servers map[string]*Server

	Dials         []string
	Binds         []string
	Searches      []*goldap.SearchRequest
	Modifications []Modification
	open          int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{servers: map[string]*Server{}}
}

// AddServer registers srv at addr (host:port).
func (d *Directory) AddServer(addr string, srv *Server) *Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers[addr] = srv
	return srv
}

// OpenConnections is the number of dialed connections not yet closed.
func (d *Directory) OpenConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// SearchCount is the number of searches issued.
func (d *Directory) SearchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Searches)
}

func (d *Directory) DialURL(ctx context.Context, addr string, tlsConfig *tls.Config) (ldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Dials = append(d.Dials, addr)
	srv, ok := d.servers[u.Host]
	d.mu.Unlock()

	if !ok {
		return nil, goldap.NewError(goldap.ErrorNetwork, fmt.Errorf("dial tcp %s: connection refused", u.Host))
	}
	if srv.DialErr != nil {
		return nil, srv.DialErr
	}

	c := &conn{dir: d, srv: srv, addr: u.Host}
	if u.Scheme == "ldaps" {
		if err := c.handshake(tlsConfig); err != nil {
			return nil, goldap.NewError(goldap.ErrorNetwork, err)
		}
	}

	d.mu.Lock()
	d.open++
	d.mu.Unlock()

	return c, nil
}

type conn struct {
	dir    *Directory
	srv    *Server
	addr   string
	tls    bool
	closed bool
}

// handshake stands in for a TLS handshake by running the client's
// verification callback against the server's certificate chain.
func (c *conn) handshake(cfg *tls.Config) error {
	if cfg == nil {
		return errors.New("tls: no configuration")
	}
	if cfg.VerifyConnection != nil {
		if err := cfg.VerifyConnection(tls.ConnectionState{
			ServerName:       cfg.ServerName,
			PeerCertificates: c.srv.Certificates,
		}); err != nil {
			return err
		}
	}
	c.tls = true
	return nil
}

func (c *conn) StartTLS(cfg *tls.Config) error {
	if c.srv.StartTLSErr != nil {
		return c.srv.StartTLSErr
	}
	if c.tls {
		return goldap.NewError(goldap.LDAPResultOperationsError, errors.New("TLS already established"))
	}
	return c.handshake(cfg)
}

func (c *conn) Bind(username, password string) error {
	c.dir.record(func(d *Directory) { d.Binds = append(d.Binds, username) })

	if password == "" {
		return goldap.NewError(goldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}
	if c.srv.RequireTLS && !c.tls {
		return goldap.NewError(goldap.LDAPResultConfidentialityRequired, errors.New("TLS required"))
	}
	if want, ok := c.srv.Passwords[username]; !ok || want != password {
		return goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	}
	return nil
}

func (c *conn) UnauthenticatedBind(username string) error {
	c.dir.record(func(d *Directory) { d.Binds = append(d.Binds, username) })

	if !c.srv.AllowAnonymous {
		return goldap.NewError(goldap.LDAPResultInappropriateAuthentication, errors.New("anonymous bind disallowed"))
	}
	return nil
}

func (c *conn) Search(req *goldap.SearchRequest) (*goldap.SearchResult, error) {
	c.dir.record(func(d *Directory) { d.Searches = append(d.Searches, req) })

	if c.srv.SearchErr != nil {
		return nil, c.srv.SearchErr
	}
	if urls := lookup(c.srv.Referrals, req.BaseDN); len(urls) > 0 {
		return nil, ReferralError(urls...)
	}

	result := &goldap.SearchResult{
		Entries:   []*goldap.Entry{},
		Referrals: slices.Clone(lookup(c.srv.Continuations, req.BaseDN)),
	}
	matched, mapped := c.srv.Filters[req.Filter]
	for _, entry := range c.srv.Entries {
		if !underBase(entry.DN, req.BaseDN) {
			continue
		}
		if (mapped && slices.Contains(matched, entry.DN)) || (!mapped && req.Filter == MatchAll) {
			result.Entries = append(result.Entries, entry)
		}
	}
	return result, nil
}

func (c *conn) Modify(req *goldap.ModifyRequest) error {
	c.dir.record(func(d *Directory) {
		d.Modifications = append(d.Modifications, Modification{Addr: c.addr, DN: req.DN, Changes: req.Changes})
	})

	if c.srv.ModifyErr != nil {
		return c.srv.ModifyErr
	}
	for _, change := range req.Changes {
		if change.Operation == goldap.ReplaceAttribute &&
			c.srv.PasswordAttribute != "" &&
			strings.EqualFold(change.Modification.Type, c.srv.PasswordAttribute) &&
			len(change.Modification.Vals) > 0 {
			c.srv.Passwords[req.DN] = change.Modification.Vals[0]
		}
	}
	return nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.dir.record(func(d *Directory) { d.open-- })
	return nil
}

func (d *Directory) record(fn func(*Directory)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func lookup(m map[string][]string, baseDN string) []string {
	for k, v := range m {
		if strings.EqualFold(k, baseDN) {
			return v
		}
	}
	return nil
}

func underBase(dn, base string) bool {
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return base == "" || dn == base || strings.HasSuffix(dn, ","+base)
}

// ReferralError builds the error go-ldap returns for a search that ends
// with result code 10, including the referral URIs in the response packet.
func ReferralError(urls ...string) error {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), "MessageID"))

	done := ber.Encode(ber.ClassApplication, ber.TypeConstructed, 5, nil, "Search Result Done")
	done.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(goldap.LDAPResultReferral), "resultCode"))
	done.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "matchedDN"))
	done.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "referral", "diagnosticMessage"))

	referral := ber.Encode(ber.ClassContext, ber.TypeConstructed, 3, nil, "Referral")
	for _, u := range urls {
		referral.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, u, "URI"))
	}
	done.AppendChild(referral)
	envelope.AppendChild(done)

	return &goldap.Error{
		ResultCode: goldap.LDAPResultReferral,
		Err:        errors.New("referral"),
		Packet:     envelope,
	}
}
