package provider

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap/ldaptest"
)

func TestProviderMetadata(t *testing.T) {
	p := &LDAPAuthProvider{version: "test"}

	resp := &provider.MetadataResponse{}
	p.Metadata(t.Context(), provider.MetadataRequest{}, resp)

	assert.Equal(t, "ldapauth", resp.TypeName)
	assert.Equal(t, "test", resp.Version)
}

func TestProviderSchema(t *testing.T) {
	p := &LDAPAuthProvider{}

	resp := &provider.SchemaResponse{}
	p.Schema(t.Context(), provider.SchemaRequest{}, resp)
	require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

	attributes := []string{
		"host", "port", "tls_mode", "skip_tls_verify",
		"tls_ca_cert_file", "tls_client_cert_file", "tls_client_key_file", "tls_min_version",
		"connect_timeout", "bind_dn", "bind_password", "base_dn", "search_filter",
		"admin_base_dn", "admin_filter", "username_attributes", "primary_username_attribute",
		"password_attribute", "case_insensitive_usernames", "allow_password_change",
		"create_users", "enable_all_folders", "enabled_folders", "password_reset_url",
		"user_database", "referral_hop_limit",
	}
	assert.Len(t, resp.Schema.Attributes, len(attributes))

	for _, name := range attributes {
		attr, ok := resp.Schema.Attributes[name]
		if !assert.True(t, ok, "missing attribute %s", name) {
			continue
		}
		assert.False(t, attr.IsRequired(), "%s must be optional so it can come from the environment", name)

		envVar := "LDAPAUTH_" + strings.ToUpper(name)
		assert.Contains(t, attr.GetMarkdownDescription(), envVar)
	}

	for _, name := range []string{"bind_password", "tls_client_key_file"} {
		assert.True(t, resp.Schema.Attributes[name].IsSensitive(), "%s must be sensitive", name)
	}
}

func TestProviderConfigValidators(t *testing.T) {
	p := &LDAPAuthProvider{}

	validators := p.ConfigValidators(t.Context())
	require.NotEmpty(t, validators)
	for i, v := range validators {
		assert.NotNil(t, v, "config validator %d", i)
	}
}

func TestProviderTypeNames(t *testing.T) {
	ctx := t.Context()
	p := &LDAPAuthProvider{}

	var resources []string
	for _, newResource := range p.Resources(ctx) {
		resp := &resource.MetadataResponse{}
		newResource().Metadata(ctx, resource.MetadataRequest{ProviderTypeName: "ldapauth"}, resp)
		resources = append(resources, resp.TypeName)
	}
	assert.Equal(t, []string{"ldapauth_password"}, resources)

	var dataSources []string
	for _, newDataSource := range p.DataSources(ctx) {
		resp := &datasource.MetadataResponse{}
		newDataSource().Metadata(ctx, datasource.MetadataRequest{ProviderTypeName: "ldapauth"}, resp)
		dataSources = append(dataSources, resp.TypeName)
	}
	assert.ElementsMatch(t, []string{"ldapauth_users", "ldapauth_connection_check", "ldapauth_password_reset"}, dataSources)

	var ephemeralResources []string
	for _, newEphemeral := range p.EphemeralResources(ctx) {
		resp := &ephemeral.MetadataResponse{}
		newEphemeral().Metadata(ctx, ephemeral.MetadataRequest{ProviderTypeName: "ldapauth"}, resp)
		ephemeralResources = append(ephemeralResources, resp.TypeName)
	}
	assert.Equal(t, []string{"ldapauth_login"}, ephemeralResources)

	var functions []string
	for _, newFunction := range p.Functions(ctx) {
		resp := &function.MetadataResponse{}
		newFunction().Metadata(ctx, function.MetadataRequest{}, resp)
		functions = append(functions, resp.Name)
	}
	assert.Equal(t, []string{"password_reset_url"}, functions)
}

func TestNewProvider(t *testing.T) {
	for _, version := range []string{"test", "dev", "1.0.0", ""} {
		t.Run("version "+version, func(t *testing.T) {
			p, ok := New(version)().(*LDAPAuthProvider)
			require.True(t, ok)
			assert.Equal(t, version, p.version)
		})
	}
}

func TestProviderServer(t *testing.T) {
	server, err := providerserver.NewProtocol6WithError(New("test")())()
	require.NoError(t, err)
	assert.NotNil(t, server)
}

// configure runs Configure with the given provider block values.
func configure(t *testing.T, dialer ldap.Dialer, values map[string]tftypes.Value) (*LDAPAuthProvider, *provider.ConfigureResponse) {
	t.Helper()
	ctx := t.Context()

	p := &LDAPAuthProvider{version: "test", dialer: dialer}
	schemaResp := &provider.SchemaResponse{}
	p.Schema(ctx, provider.SchemaRequest{}, schemaResp)

	req := provider.ConfigureRequest{
		Config: tfsdk.Config{
			Schema: schemaResp.Schema,
			Raw:    objectValue(t, ctx, schemaResp.Schema.Type(), values),
		},
	}
	resp := &provider.ConfigureResponse{}
	p.Configure(ctx, req, resp)
	if data, ok := resp.DataSourceData.(*ProviderData); ok {
		t.Cleanup(func() { _ = data.Users.Close() })
	}
	return p, resp
}

func TestProviderConfigure(t *testing.T) {
	dir, _ := newTestDirectory()

	_, resp := configure(t, dir, map[string]tftypes.Value{
		"host":                       str(testHost),
		"bind_dn":                    str(testServiceDN),
		"bind_password":              str(testServicePW),
		"base_dn":                    str(testBaseDN),
		"search_filter":              str(testUserFilter),
		"username_attributes":        str(" uid , mail "),
		"primary_username_attribute": str("uid"),
		"admin_filter":               str(testAdminGroup),
		"connect_timeout":            number(5),
		"enable_all_folders":         boolean(false),
		"enabled_folders":            stringList("finance", "ops"),
	})
	require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

	data, ok := resp.DataSourceData.(*ProviderData)
	require.True(t, ok, "got %T", resp.DataSourceData)
	assert.Same(t, data, resp.ResourceData)
	assert.Same(t, data, resp.EphemeralResourceData)

	settings := data.Auth.Settings()
	assert.Equal(t, []string{"uid", "mail"}, settings.Directory.UsernameAttributes)
	assert.Equal(t, 5*time.Second, settings.Directory.Timeout)
	assert.Equal(t, ldap.TLSModeNone, settings.Directory.TLSMode)
	assert.Equal(t, ldap.DefaultReferralHopLimit, settings.Directory.ReferralHopLimit)
	assert.True(t, settings.CreateUsers, "user creation defaults to on")

	outcome, err := data.Auth.Authenticate(t.Context(), "alice@example.org", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", outcome.Username)
	assert.True(t, outcome.IsAdmin)

	record, err := data.Users.FindByUsername(t.Context(), "alice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.EnableAllFolders)
	assert.Equal(t, []string{"finance", "ops"}, record.EnabledFolders)
}

func TestProviderConfigure_Environment(t *testing.T) {
	t.Setenv("LDAPAUTH_HOST", testHost)
	t.Setenv("LDAPAUTH_BIND_DN", testServiceDN)
	t.Setenv("LDAPAUTH_BIND_PASSWORD", testServicePW)
	t.Setenv("LDAPAUTH_BASE_DN", testBaseDN)
	t.Setenv("LDAPAUTH_SEARCH_FILTER", testUserFilter)
	t.Setenv("LDAPAUTH_USERNAME_ATTRIBUTES", "uid")
	t.Setenv("LDAPAUTH_PRIMARY_USERNAME_ATTRIBUTE", "uid")
	t.Setenv("LDAPAUTH_TLS_MODE", "StartTLS")
	t.Setenv("LDAPAUTH_CREATE_USERS", "false")
	t.Setenv("LDAPAUTH_ENABLED_FOLDERS", "finance, ops")
	t.Setenv("LDAPAUTH_REFERRAL_HOP_LIMIT", "3")

	dir, _ := newTestDirectory()
	_, resp := configure(t, dir, map[string]tftypes.Value{
		// explicit configuration wins over the environment
		"base_dn": str("ou=people," + testBaseDN),
	})
	require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

	settings := resp.DataSourceData.(*ProviderData).Auth.Settings()
	assert.Equal(t, testHost, settings.Directory.Host)
	assert.Equal(t, "ou=people,"+testBaseDN, settings.Directory.BaseDN)
	assert.Equal(t, ldap.TLSModeStartTLS, settings.Directory.TLSMode)
	assert.Equal(t, 3, settings.Directory.ReferralHopLimit)
	assert.False(t, settings.CreateUsers)
	assert.Equal(t, []string{"finance", "ops"}, settings.EnabledFolders)
	assert.False(t, settings.Directory.AdminEnabled())
}

func TestProviderConfigure_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]tftypes.Value
		summary string
		detail  string
	}{
		{
			name:    "nothing configured",
			values:  map[string]tftypes.Value{},
			summary: "Invalid Directory Configuration",
			detail:  "host is required",
		},
		{
			name: "unknown tls mode",
			values: map[string]tftypes.Value{
				"host":     str(testHost),
				"base_dn":  str(testBaseDN),
				"tls_mode": str("ssl"),
			},
			summary: "Invalid TLS Mode",
		},
		{
			name: "client certificate without key",
			values: map[string]tftypes.Value{
				"host":                 str(testHost),
				"base_dn":              str(testBaseDN),
				"tls_mode":             str("ldaps"),
				"tls_client_cert_file": str("/etc/ssl/client.pem"),
			},
			summary: "Invalid Directory Configuration",
			detail:  "client certificate and client key must be configured together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := configure(t, ldaptest.NewDirectory(), tt.values)
			require.True(t, resp.Diagnostics.HasError())
			assert.Nil(t, resp.DataSourceData)

			diag := resp.Diagnostics.Errors()[0]
			assert.Equal(t, tt.summary, diag.Summary())
			if tt.detail != "" {
				assert.Contains(t, diag.Detail(), tt.detail)
			}
		})
	}
}

func TestProviderData_Validate(t *testing.T) {
	var missing *ProviderData
	assert.Error(t, missing.Validate(t.Context()))
	assert.Error(t, (&ProviderData{}).Validate(t.Context()))
	assert.Error(t, (&ProviderData{Auth: &auth.Authenticator{}}).Validate(t.Context()))

	env := newTestEnv(t)
	assert.NoError(t, env.data.Validate(t.Context()))
}
