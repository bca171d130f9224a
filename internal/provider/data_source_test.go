package provider

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// readDataSource runs Read with the given configuration values and decodes
// the resulting state into target.
func readDataSource(t *testing.T, d datasource.DataSource, values map[string]tftypes.Value, target any) *datasource.ReadResponse {
	t.Helper()
	ctx := t.Context()

	schemaResp := &datasource.SchemaResponse{}
	d.Schema(ctx, datasource.SchemaRequest{}, schemaResp)
	require.False(t, schemaResp.Diagnostics.HasError())

	req := datasource.ReadRequest{
		Config: tfsdk.Config{
			Schema: schemaResp.Schema,
			Raw:    objectValue(t, ctx, schemaResp.Schema.Type(), values),
		},
	}
	resp := &datasource.ReadResponse{
		State: tfsdk.State{
			Schema: schemaResp.Schema,
			Raw:    tftypes.NewValue(schemaResp.Schema.Type().TerraformType(ctx), nil),
		},
	}
	d.Read(ctx, req, resp)

	if !resp.Diagnostics.HasError() {
		require.False(t, resp.State.Get(ctx, target).HasError())
	}
	return resp
}

func TestDataSources_Configure(t *testing.T) {
	env := newTestEnv(t)

	for _, newDataSource := range []func() datasource.DataSource{
		NewUsersDataSource,
		NewConnectionCheckDataSource,
		NewPasswordResetDataSource,
	} {
		d, ok := newDataSource().(datasource.DataSourceWithConfigure)
		require.True(t, ok)

		resp := &datasource.ConfigureResponse{}
		d.Configure(t.Context(), datasource.ConfigureRequest{}, resp)
		assert.False(t, resp.Diagnostics.HasError())

		resp = &datasource.ConfigureResponse{}
		d.Configure(t.Context(), datasource.ConfigureRequest{ProviderData: 42}, resp)
		require.True(t, resp.Diagnostics.HasError())
		assert.Equal(t, "Unexpected Data Source Configure Type", resp.Diagnostics.Errors()[0].Summary())
		assert.Contains(t, resp.Diagnostics.Errors()[0].Detail(), "got: int")

		resp = &datasource.ConfigureResponse{}
		d.Configure(t.Context(), datasource.ConfigureRequest{ProviderData: env.data}, resp)
		assert.False(t, resp.Diagnostics.HasError())
	}
}

func TestUsersDataSource_Read(t *testing.T) {
	env := newTestEnv(t)
	d := &UsersDataSource{data: env.data}

	t.Run("default filter", func(t *testing.T) {
		var model UsersDataSourceModel
		resp := readDataSource(t, d, nil, &model)
		require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

		var dns []string
		require.False(t, model.DNs.ElementsAs(t.Context(), &dns, false).HasError())
		assert.Equal(t, []string{testAliceDN, testBobDN}, dns)
		assert.Equal(t, int64(2), model.UserCount.ValueInt64())
		assert.Equal(t, searchID(testBaseDN, testUserFilter), model.ID.ValueString())
		assert.True(t, model.Filter.IsNull(), "an unset filter stays unset")
	})

	t.Run("explicit filter", func(t *testing.T) {
		var model UsersDataSourceModel
		resp := readDataSource(t, d, map[string]tftypes.Value{"filter": str(testAdminGroup)}, &model)
		require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

		var dns []string
		require.False(t, model.DNs.ElementsAs(t.Context(), &dns, false).HasError())
		assert.Equal(t, []string{testAliceDN}, dns)
		assert.Equal(t, int64(1), model.UserCount.ValueInt64())
		assert.Equal(t, testAdminGroup, model.Filter.ValueString())
	})

	t.Run("no matches", func(t *testing.T) {
		var model UsersDataSourceModel
		resp := readDataSource(t, d, map[string]tftypes.Value{"filter": str("(uid=nobody)")}, &model)
		require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)
		assert.Zero(t, model.UserCount.ValueInt64())
		assert.Empty(t, model.DNs.Elements())
	})

	t.Run("search failure", func(t *testing.T) {
		env.srv.SearchErr = errors.New("server busy")
		t.Cleanup(func() { env.srv.SearchErr = nil })

		var model UsersDataSourceModel
		resp := readDataSource(t, d, nil, &model)
		require.True(t, resp.Diagnostics.HasError())
		assert.Equal(t, "Error Searching Directory", resp.Diagnostics.Errors()[0].Summary())
	})

	assert.Zero(t, env.dir.OpenConnections())
}

func TestSearchID(t *testing.T) {
	id := searchID(testBaseDN, testUserFilter)

	assert.True(t, strings.HasPrefix(id, "users-"))
	assert.Len(t, id, len("users-")+16)
	assert.Equal(t, id, searchID(strings.ToUpper(testBaseDN), testUserFilter), "base DN case is ignored")
	assert.NotEqual(t, id, searchID(testBaseDN, testAdminGroup))
	assert.NotEqual(t, id, searchID("ou=people,"+testBaseDN, testUserFilter))
}

func TestConnectionCheckDataSource_Read(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t)
		d := &ConnectionCheckDataSource{data: env.data}

		var model ConnectionCheckDataSourceModel
		resp := readDataSource(t, d, nil, &model)
		require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

		assert.True(t, model.Success.ValueBool())
		assert.Contains(t, model.Server.ValueString(), testHost)
		assert.Equal(t, model.Server, model.ID)
		assert.Equal(t, ldap.StepSuccess, model.Connect.ValueString())
		assert.Equal(t, ldap.StepNotStarted, model.StartTLS.ValueString(), "StartTLS is not attempted without tls_mode starttls")
		assert.Equal(t, ldap.StepSuccess, model.Bind.ValueString())
		assert.Equal(t, ldap.StepSuccess, model.BaseSearch.ValueString())
		assert.Equal(t, int64(2), model.EntryCount.ValueInt64())
	})

	t.Run("rejected service account", func(t *testing.T) {
		env := newTestEnv(t, func(s *auth.Settings) { s.Directory.BindPassword = "rotated" })
		d := &ConnectionCheckDataSource{data: env.data}

		var model ConnectionCheckDataSourceModel
		resp := readDataSource(t, d, nil, &model)
		require.False(t, resp.Diagnostics.HasError(), "a failed check is reported in state, not as an error")

		assert.False(t, model.Success.ValueBool())
		assert.Equal(t, ldap.StepSuccess, model.Connect.ValueString())
		assert.NotEqual(t, ldap.StepSuccess, model.Bind.ValueString())
		assert.Equal(t, ldap.StepNotStarted, model.BaseSearch.ValueString())
		assert.Zero(t, model.EntryCount.ValueInt64())
	})

	t.Run("unreachable", func(t *testing.T) {
		env := newTestEnv(t, func(s *auth.Settings) { s.Directory.Host = "ldap.invalid" })
		d := &ConnectionCheckDataSource{data: env.data}

		var model ConnectionCheckDataSourceModel
		resp := readDataSource(t, d, nil, &model)
		require.False(t, resp.Diagnostics.HasError())

		assert.False(t, model.Success.ValueBool())
		assert.Contains(t, model.Connect.ValueString(), "connection refused")
		assert.Equal(t, ldap.StepNotStarted, model.Bind.ValueString())
	})
}

func TestPasswordResetDataSource_Read(t *testing.T) {
	env := newTestEnv(t)
	d := &PasswordResetDataSource{data: env.data}

	outcome, err := env.data.Auth.Authenticate(t.Context(), "alice", "secret")
	require.NoError(t, err)

	var model PasswordResetDataSourceModel
	resp := readDataSource(t, d, map[string]tftypes.Value{"username": str("alice")}, &model)
	require.False(t, resp.Diagnostics.HasError(), "%v", resp.Diagnostics)

	assert.Equal(t, "alice", model.ID.ValueString())
	assert.Equal(t, "https://id.example.org/reset?user=alice&id="+outcome.UserID, model.URL.ValueString())
	assert.Equal(t, string(auth.ActionInNetworkRequired), model.Action.ValueString())

	expires, err := time.Parse(time.RFC3339, model.ExpiresAt.ValueString())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultResetTTL), expires, time.Minute)

	t.Run("unknown user", func(t *testing.T) {
		var model PasswordResetDataSourceModel
		resp := readDataSource(t, d, map[string]tftypes.Value{"username": str("bob")}, &model)
		require.True(t, resp.Diagnostics.HasError())
		assert.Equal(t, "Unable to Start Password Reset", resp.Diagnostics.Errors()[0].Summary())
	})

	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, func(s *auth.Settings) { s.PasswordResetURL = "" })
		d := &PasswordResetDataSource{data: env.data}

		var model PasswordResetDataSourceModel
		resp := readDataSource(t, d, map[string]tftypes.Value{"username": str("alice")}, &model)
		require.True(t, resp.Diagnostics.HasError())
		assert.Contains(t, resp.Diagnostics.Errors()[0].Detail(), "not supported")
	})
}

func TestDataSources_ReadNotConfigured(t *testing.T) {
	tests := map[string]struct {
		dataSource datasource.DataSource
		values     map[string]tftypes.Value
		target     any
	}{
		"users": {
			dataSource: &UsersDataSource{},
			target:     &UsersDataSourceModel{},
		},
		"connection check": {
			dataSource: &ConnectionCheckDataSource{},
			target:     &ConnectionCheckDataSourceModel{},
		},
		"password reset": {
			dataSource: &PasswordResetDataSource{},
			values:     map[string]tftypes.Value{"username": str("alice")},
			target:     &PasswordResetDataSourceModel{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp := readDataSource(t, tt.dataSource, tt.values, tt.target)
			require.True(t, resp.Diagnostics.HasError())
			assert.Equal(t, "Provider Not Configured", resp.Diagnostics.Errors()[0].Summary())
		})
	}
}
