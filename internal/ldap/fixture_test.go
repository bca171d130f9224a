package ldap_test

import (
	"testing"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap/ldaptest"
)

const (
	hostA      = "ldap-a.example.org"
	hostB      = "ldap-b.example.org"
	addrA      = hostA + ":389"
	addrB      = hostB + ":389"
	baseDN     = "dc=example,dc=org"
	peopleDN   = "ou=people,dc=example,dc=org"
	groupsDN   = "ou=groups,dc=example,dc=org"
	serviceDN  = "cn=service,dc=example,dc=org"
	servicePW  = "service-secret"
	aliceDN    = "uid=alice,ou=people,dc=example,dc=org"
	bobDN      = "uid=bob,ou=people,dc=example,dc=org"
	carolDN    = "cn=carol,ou=people,dc=example,dc=org"
	userFilter = "(objectClass=person)"
	adminGroup = "(memberOf=cn=admins,ou=groups,dc=example,dc=org)"
)

// newFixture returns a directory with one server holding alice, bob and
// carol (who has no uid), and a config pointing at it.
func newFixture(t *testing.T) (*ldaptest.Directory, *ldaptest.Server, *ldap.DirectoryConfig) {
	t.Helper()

	srv := ldaptest.NewServer(
		ldaptest.Entry(aliceDN, map[string][]string{
			"uid":  {"alice"},
			"cn":   {"Alice Liddell"},
			"mail": {"alice@example.org"},
		}),
		ldaptest.Entry(bobDN, map[string][]string{
			"uid":  {"bob"},
			"cn":   {"Bob"},
			"mail": {"bob@example.org", "robert@example.org"},
		}),
		ldaptest.Entry(carolDN, map[string][]string{
			"cn":   {"carol"},
			"mail": {"carol@example.org"},
		}),
	)
	srv.Passwords[serviceDN] = servicePW
	srv.Passwords[aliceDN] = "secret"
	srv.Passwords[bobDN] = "hunter2"
	srv.Passwords[carolDN] = "carol-pw"
	srv.Filters[userFilter] = []string{aliceDN, bobDN, carolDN}
	srv.PasswordAttribute = "userPassword"

	dir := ldaptest.NewDirectory()
	dir.AddServer(addrA, srv)

	cfg := ldap.DefaultConfig()
	cfg.Host = hostA
	cfg.BindDN = serviceDN
	cfg.BindPassword = servicePW
	cfg.BaseDN = baseDN
	cfg.SearchFilter = userFilter
	cfg.UsernameAttributes = []string{"uid", "mail"}
	cfg.PrimaryUsernameAttribute = "uid"

	return dir, srv, cfg
}

// serviceServer returns a second server that accepts the service account.
func serviceServer(entries ...*goldap.Entry) *ldaptest.Server {
	srv := ldaptest.NewServer(entries...)
	srv.Passwords[serviceDN] = servicePW
	return srv
}
