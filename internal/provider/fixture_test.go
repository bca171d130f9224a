package provider

import (
	"context"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap/ldaptest"
	"github.com/isometry/terraform-provider-ldapauth/internal/store"
)

const (
	testHost       = "ldap.example.org"
	testAddr       = testHost + ":389"
	testBaseDN     = "dc=example,dc=org"
	testServiceDN  = "cn=service,dc=example,dc=org"
	testServicePW  = "service-secret"
	testAliceDN    = "uid=alice,ou=people,dc=example,dc=org"
	testBobDN      = "uid=bob,ou=people,dc=example,dc=org"
	testUserFilter = "(objectClass=person)"
	testAdminGroup = "(memberOf=cn=admins,ou=groups,dc=example,dc=org)"
)

// testEnv is a configured provider backed by an in-memory directory and store.
type testEnv struct {
	dir   *ldaptest.Directory
	srv   *ldaptest.Server
	users *store.Store
	data  *ProviderData
}

func newTestDirectory() (*ldaptest.Directory, *ldaptest.Server) {
	srv := ldaptest.NewServer(
		ldaptest.Entry(testAliceDN, map[string][]string{
			"uid":  {"alice"},
			"mail": {"alice@example.org"},
		}),
		ldaptest.Entry(testBobDN, map[string][]string{
			"uid":  {"bob"},
			"mail": {"bob@example.org"},
		}),
	)
	srv.Passwords[testServiceDN] = testServicePW
	srv.Passwords[testAliceDN] = "secret"
	srv.Passwords[testBobDN] = "hunter2"
	srv.Filters[testUserFilter] = []string{testAliceDN, testBobDN}
	srv.Filters[testAdminGroup] = []string{testAliceDN}
	srv.PasswordAttribute = "userPassword"

	dir := ldaptest.NewDirectory()
	dir.AddServer(testAddr, srv)
	return dir, srv
}

func newTestEnv(t *testing.T, mutate ...func(*auth.Settings)) *testEnv {
	t.Helper()

	dir, srv := newTestDirectory()

	settings := auth.Settings{
		Directory: ldap.DirectoryConfig{
			Host:                     testHost,
			BindDN:                   testServiceDN,
			BindPassword:             testServicePW,
			BaseDN:                   testBaseDN,
			SearchFilter:             testUserFilter,
			UsernameAttributes:       []string{"uid", "mail"},
			PrimaryUsernameAttribute: "uid",
			AdminFilter:              testAdminGroup,
			AllowPasswordChange:      true,
		},
		CreateUsers:      true,
		EnableAllFolders: true,
		PasswordResetURL: "https://id.example.org/reset?user=$userName&id=$userId",
	}
	for _, m := range mutate {
		m(&settings)
	}
	require.NoError(t, settings.ApplyDefaults())

	users, err := store.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	return &testEnv{
		dir:   dir,
		srv:   srv,
		users: users,
		data:  NewProviderData(auth.NewAuthenticator(ldap.NewClient(dir), users, settings), users),
	}
}

// objectValue builds a value of the schema type typ, leaving every
// attribute not in values null.
func objectValue(t *testing.T, ctx context.Context, typ attr.Type, values map[string]tftypes.Value) tftypes.Value {
	t.Helper()

	objType, ok := typ.TerraformType(ctx).(tftypes.Object)
	require.True(t, ok, "schema type is not an object")

	attrs := make(map[string]tftypes.Value, len(objType.AttributeTypes))
	for name, attrType := range objType.AttributeTypes {
		if v, ok := values[name]; ok {
			attrs[name] = v
			continue
		}
		attrs[name] = tftypes.NewValue(attrType, nil)
	}
	for name := range values {
		_, ok := objType.AttributeTypes[name]
		require.True(t, ok, "unknown attribute %q", name)
	}
	return tftypes.NewValue(objType, attrs)
}

func str(s string) tftypes.Value {
	return tftypes.NewValue(tftypes.String, s)
}

func boolean(b bool) tftypes.Value {
	return tftypes.NewValue(tftypes.Bool, b)
}

func number(n int64) tftypes.Value {
	return tftypes.NewValue(tftypes.Number, n)
}

func stringList(values ...string) tftypes.Value {
	elems := make([]tftypes.Value, len(values))
	for i, v := range values {
		elems[i] = str(v)
	}
	return tftypes.NewValue(tftypes.List{ElementType: tftypes.String}, elems)
}
