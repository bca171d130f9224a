package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/provider/validators"
	"github.com/isometry/terraform-provider-ldapauth/internal/store"
)

// Ensure LDAPAuthProvider satisfies various provider interfaces.
var _ provider.Provider = &LDAPAuthProvider{}
var _ provider.ProviderWithFunctions = &LDAPAuthProvider{}
var _ provider.ProviderWithEphemeralResources = &LDAPAuthProvider{}
var _ provider.ProviderWithConfigValidators = &LDAPAuthProvider{}

// LDAPAuthProvider defines the provider implementation.
type LDAPAuthProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string

	// dialer is replaced in tests; nil selects a network dialer.
	dialer ldap.Dialer
}

// LDAPAuthProviderModel describes the provider data model.
type LDAPAuthProviderModel struct {
	// Transport
	Host              types.String `tfsdk:"host"`
	Port              types.Int64  `tfsdk:"port"`
	TLSMode           types.String `tfsdk:"tls_mode"`
	SkipTLSVerify     types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile     types.String `tfsdk:"tls_ca_cert_file"`
	TLSClientCertFile types.String `tfsdk:"tls_client_cert_file"`
	TLSClientKeyFile  types.String `tfsdk:"tls_client_key_file"`
	TLSMinVersion     types.String `tfsdk:"tls_min_version"`
	ConnectTimeout    types.Int64  `tfsdk:"connect_timeout"`

	// Service account
	BindDN       types.String `tfsdk:"bind_dn"`
	BindPassword types.String `tfsdk:"bind_password"`

	// User search
	BaseDN                   types.String `tfsdk:"base_dn"`
	SearchFilter             types.String `tfsdk:"search_filter"`
	UsernameAttributes       types.String `tfsdk:"username_attributes"`
	PrimaryUsernameAttribute types.String `tfsdk:"primary_username_attribute"`
	CaseInsensitiveUsernames types.Bool   `tfsdk:"case_insensitive_usernames"`
	ReferralHopLimit         types.Int64  `tfsdk:"referral_hop_limit"`

	// Administrator detection
	AdminBaseDN types.String `tfsdk:"admin_base_dn"`
	AdminFilter types.String `tfsdk:"admin_filter"`

	// Credential maintenance
	PasswordAttribute   types.String `tfsdk:"password_attribute"`
	AllowPasswordChange types.Bool   `tfsdk:"allow_password_change"`
	PasswordResetURL    types.String `tfsdk:"password_reset_url"`

	// Local user records
	CreateUsers      types.Bool   `tfsdk:"create_users"`
	EnableAllFolders types.Bool   `tfsdk:"enable_all_folders"`
	EnabledFolders   types.List   `tfsdk:"enabled_folders"`
	UserDatabase     types.String `tfsdk:"user_database"`
}

func (p *LDAPAuthProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "ldapauth"
	resp.Version = p.version
}

func (p *LDAPAuthProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The LDAP authentication provider verifies logins against an LDAP directory using a " +
			"service account, decides administrator status from a directory filter and keeps a local user record in step " +
			"with the directory. Referrals are followed with the service account credentials.",
		Attributes: map[string]schema.Attribute{
			// Transport
			"host": schema.StringAttribute{
				MarkdownDescription: "Directory server host name or address. " +
					"Can be set via the `LDAPAUTH_HOST` environment variable.",
				Optional: true,
			},
			"port": schema.Int64Attribute{
				MarkdownDescription: "Directory server port. Defaults to `636` for `ldaps` and `389` otherwise. " +
					"Can be set via the `LDAPAUTH_PORT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
				},
			},
			"tls_mode": schema.StringAttribute{
				MarkdownDescription: "Transport security: `none`, `starttls` or `ldaps`. Defaults to `none`. " +
					"Can be set via the `LDAPAUTH_TLS_MODE` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf(ldap.TLSModes()...),
				},
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Accept any server certificate. Not recommended for production. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"tls_ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM bundle of CA certificates. When set, the server chain must end in one of " +
					"these certificates and the system trust store is not consulted. " +
					"Can be set via the `LDAPAUTH_TLS_CA_CERT_FILE` environment variable.",
				Optional: true,
			},
			"tls_client_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM client certificate for mutual TLS. " +
					"Can be set via the `LDAPAUTH_TLS_CLIENT_CERT_FILE` environment variable.",
				Optional: true,
			},
			"tls_client_key_file": schema.StringAttribute{
				MarkdownDescription: "Path to the PEM private key for `tls_client_cert_file`. " +
					"Can be set via the `LDAPAUTH_TLS_CLIENT_KEY_FILE` environment variable.",
				Optional:  true,
				Sensitive: true,
			},
			"tls_min_version": schema.StringAttribute{
				MarkdownDescription: "Minimum TLS version: `tls10`, `tls11`, `tls12` or `tls13`. Defaults to `tls12`. " +
					"Can be set via the `LDAPAUTH_TLS_MIN_VERSION` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf("tls10", "tls11", "tls12", "tls13"),
				},
			},
			"connect_timeout": schema.Int64Attribute{
				MarkdownDescription: "Timeout in seconds for connecting and for each directory request. Defaults to `30`. " +
					"Can be set via the `LDAPAUTH_CONNECT_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// Service account
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN of the service account used for searches. Leave unset for an anonymous bind. " +
					"Can be set via the `LDAPAUTH_BIND_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password of the service account. " +
					"Can be set via the `LDAPAUTH_BIND_PASSWORD` environment variable.",
				Optional:  true,
				Sensitive: true,
			},

			// User search
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN under which users are searched (e.g., `ou=people,dc=example,dc=org`). " +
					"Can be set via the `LDAPAUTH_BASE_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"search_filter": schema.StringAttribute{
				MarkdownDescription: "Filter selecting candidate user entries. It is sent unchanged; the login name is " +
					"matched against the returned attributes. Defaults to `(objectClass=person)`. " +
					"Can be set via the `LDAPAUTH_SEARCH_FILTER` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidFilter(),
				},
			},
			"username_attributes": schema.StringAttribute{
				MarkdownDescription: "Comma-separated attributes compared with the login name, in order. Surrounding " +
					"whitespace is ignored. Defaults to `uid,cn,mail,displayName`. " +
					"Can be set via the `LDAPAUTH_USERNAME_ATTRIBUTES` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsAttributeList(),
				},
			},
			"primary_username_attribute": schema.StringAttribute{
				MarkdownDescription: "Attribute holding the canonical username of a matched entry. Defaults to `cn`. " +
					"Can be set via the `LDAPAUTH_PRIMARY_USERNAME_ATTRIBUTE` environment variable.",
				Optional: true,
			},
			"case_insensitive_usernames": schema.BoolAttribute{
				MarkdownDescription: "Compare login names with attribute values ignoring case. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_CASE_INSENSITIVE_USERNAMES` environment variable.",
				Optional: true,
			},
			"referral_hop_limit": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of referrals followed for one search. Defaults to `10`. " +
					"Can be set via the `LDAPAUTH_REFERRAL_HOP_LIMIT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},

			// Administrator detection
			"admin_base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN for the administrator search. Defaults to `base_dn`. " +
					"Can be set via the `LDAPAUTH_ADMIN_BASE_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"admin_filter": schema.StringAttribute{
				MarkdownDescription: "Filter whose results are the administrators. `{username}` is replaced with the " +
					"escaped login name. `_disabled_` turns administrator detection off, which is the default. " +
					"Can be set via the `LDAPAUTH_ADMIN_FILTER` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidAdminFilter(),
				},
			},

			// Credential maintenance
			"password_attribute": schema.StringAttribute{
				MarkdownDescription: "Attribute replaced when a password is changed. Defaults to `userPassword`. " +
					"Can be set via the `LDAPAUTH_PASSWORD_ATTRIBUTE` environment variable.",
				Optional: true,
			},
			"allow_password_change": schema.BoolAttribute{
				MarkdownDescription: "Allow `ldapauth_password` to write passwords with the service account. Defaults to `false`. " +
					"Can be set via the `LDAPAUTH_ALLOW_PASSWORD_CHANGE` environment variable.",
				Optional: true,
			},
			"password_reset_url": schema.StringAttribute{
				MarkdownDescription: "URL of an external password reset page. `$userId` and `$userName` are replaced " +
					"in any letter case. Can be set via the `LDAPAUTH_PASSWORD_RESET_URL` environment variable.",
				Optional: true,
			},

			// Local user records
			"create_users": schema.BoolAttribute{
				MarkdownDescription: "Create a local user record on first login. Defaults to `true`. " +
					"Can be set via the `LDAPAUTH_CREATE_USERS` environment variable.",
				Optional: true,
			},
			"enable_all_folders": schema.BoolAttribute{
				MarkdownDescription: "Grant new user records access to all folders. Defaults to `true`. " +
					"Can be set via the `LDAPAUTH_ENABLE_ALL_FOLDERS` environment variable.",
				Optional: true,
			},
			"enabled_folders": schema.ListAttribute{
				MarkdownDescription: "Folders granted to new user records when `enable_all_folders` is `false`. " +
					"Can be set as a comma-separated list via the `LDAPAUTH_ENABLED_FOLDERS` environment variable.",
				ElementType: types.StringType,
				Optional:    true,
			},
			"user_database": schema.StringAttribute{
				MarkdownDescription: "Path of the SQLite database holding local user records. Records are kept in " +
					"memory for the life of the provider process when unset. " +
					"Can be set via the `LDAPAUTH_USER_DATABASE` environment variable.",
				Optional: true,
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LDAPAuthProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.RequiredTogether(
			path.MatchRoot("tls_client_cert_file"),
			path.MatchRoot("tls_client_key_file"),
		),
	}
}

func (p *LDAPAuthProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LDAPAuthProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring LDAP authentication provider", map[string]any{
		"version": p.version,
	})

	settings := p.buildSettings(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	if err := settings.Directory.Validate(); err != nil {
		resp.Diagnostics.AddError(
			"Invalid Directory Configuration",
			"The directory settings are incomplete or inconsistent. "+
				"Set the attributes below in the provider block or through their LDAPAUTH_* environment variables.\n\n"+
				err.Error(),
		)
		return
	}

	start := time.Now()
	userDatabase := p.getStringValue(data.UserDatabase, "LDAPAUTH_USER_DATABASE")
	users, err := store.New(userDatabase)
	if err != nil {
		tflog.Error(ctx, "Failed to open user store", map[string]any{
			"error":       err.Error(),
			"path":        userDatabase,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Unable to Open User Store",
			"The provider could not open the local user record database.\n\n"+
				"User Store Error: "+err.Error(),
		)
		return
	}

	dialer := p.dialer
	if dialer == nil {
		dialer = ldap.NewNetDialer(settings.Directory.Timeout)
	}
	authenticator := auth.NewAuthenticator(ldap.NewClient(dialer), users, settings)

	tflog.Info(ctx, "LDAP authentication provider configured", map[string]any{
		"server":         settings.Directory.URL(),
		"admin_enabled":  settings.Directory.AdminEnabled(),
		"create_users":   settings.CreateUsers,
		"user_database":  userDatabase,
		"duration_ms":    time.Since(start).Milliseconds(),
		"password_reset": settings.PasswordResetURL != "",
	})

	providerData := NewProviderData(authenticator, users)
	resp.DataSourceData = providerData
	resp.ResourceData = providerData
	resp.EphemeralResourceData = providerData
}

// configureLogging adds the provider fields to every log line.
func (p *LDAPAuthProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "ldapauth")
	ctx = tflog.SetField(ctx, "provider_version", p.version)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, "password", "bind_password", "new_password")

	tflog.Debug(ctx, "LDAP authentication provider logging configured")

	return ctx
}

// buildSettings constructs the authenticator settings from provider config and environment variables.
func (p *LDAPAuthProvider) buildSettings(ctx context.Context, data *LDAPAuthProviderModel, diags *diag.Diagnostics) auth.Settings {
	settings := auth.Settings{}
	cfg := &settings.Directory

	cfg.Host = p.getStringValue(data.Host, "LDAPAUTH_HOST")
	cfg.Port = int(p.getInt64Value(data.Port, "LDAPAUTH_PORT", 0))

	mode, err := ldap.ParseTLSMode(p.getStringValue(data.TLSMode, "LDAPAUTH_TLS_MODE"))
	if err != nil {
		diags.AddAttributeError(path.Root("tls_mode"), "Invalid TLS Mode", err.Error())
		return settings
	}
	cfg.TLSMode = mode
	cfg.SkipVerify = p.getBoolValue(data.SkipTLSVerify, "LDAPAUTH_SKIP_TLS_VERIFY", false)
	cfg.CACertFile = p.getStringValue(data.TLSCACertFile, "LDAPAUTH_TLS_CA_CERT_FILE")
	cfg.ClientCertFile = p.getStringValue(data.TLSClientCertFile, "LDAPAUTH_TLS_CLIENT_CERT_FILE")
	cfg.ClientKeyFile = p.getStringValue(data.TLSClientKeyFile, "LDAPAUTH_TLS_CLIENT_KEY_FILE")
	cfg.TLSMinVersion = strings.ToLower(p.getStringValue(data.TLSMinVersion, "LDAPAUTH_TLS_MIN_VERSION"))
	if timeout := p.getInt64Value(data.ConnectTimeout, "LDAPAUTH_CONNECT_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	cfg.BindDN = p.getStringValue(data.BindDN, "LDAPAUTH_BIND_DN")
	cfg.BindPassword = p.getStringValue(data.BindPassword, "LDAPAUTH_BIND_PASSWORD")

	cfg.BaseDN = p.getStringValue(data.BaseDN, "LDAPAUTH_BASE_DN")
	cfg.SearchFilter = p.getStringValue(data.SearchFilter, "LDAPAUTH_SEARCH_FILTER")
	if attrs := p.getStringValue(data.UsernameAttributes, "LDAPAUTH_USERNAME_ATTRIBUTES"); attrs != "" {
		cfg.UsernameAttributes = ldap.ParseAttributeList(attrs)
	}
	cfg.PrimaryUsernameAttribute = strings.TrimSpace(p.getStringValue(data.PrimaryUsernameAttribute, "LDAPAUTH_PRIMARY_USERNAME_ATTRIBUTE"))
	cfg.CaseInsensitive = p.getBoolValue(data.CaseInsensitiveUsernames, "LDAPAUTH_CASE_INSENSITIVE_USERNAMES", false)
	cfg.ReferralHopLimit = int(p.getInt64Value(data.ReferralHopLimit, "LDAPAUTH_REFERRAL_HOP_LIMIT", 0))

	cfg.AdminBaseDN = p.getStringValue(data.AdminBaseDN, "LDAPAUTH_ADMIN_BASE_DN")
	cfg.AdminFilter = p.getStringValue(data.AdminFilter, "LDAPAUTH_ADMIN_FILTER")

	cfg.PasswordAttribute = strings.TrimSpace(p.getStringValue(data.PasswordAttribute, "LDAPAUTH_PASSWORD_ATTRIBUTE"))
	cfg.AllowPasswordChange = p.getBoolValue(data.AllowPasswordChange, "LDAPAUTH_ALLOW_PASSWORD_CHANGE", false)
	settings.PasswordResetURL = p.getStringValue(data.PasswordResetURL, "LDAPAUTH_PASSWORD_RESET_URL")

	settings.CreateUsers = p.getBoolValue(data.CreateUsers, "LDAPAUTH_CREATE_USERS", true)
	settings.EnableAllFolders = p.getBoolValue(data.EnableAllFolders, "LDAPAUTH_ENABLE_ALL_FOLDERS", true)
	settings.EnabledFolders = p.getListValue(ctx, data.EnabledFolders, "LDAPAUTH_ENABLED_FOLDERS", diags)

	if err := settings.ApplyDefaults(); err != nil {
		diags.AddError("Unable to Apply Configuration Defaults", err.Error())
	}

	return settings
}

// Helper functions for configuration value resolution

func (p *LDAPAuthProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && !configValue.IsUnknown() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *LDAPAuthProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPAuthProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPAuthProvider) getListValue(ctx context.Context, configValue types.List, envVar string, diags *diag.Diagnostics) []string {
	if !configValue.IsNull() && !configValue.IsUnknown() {
		var values []string
		diags.Append(configValue.ElementsAs(ctx, &values, false)...)
		return values
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		return ldap.ParseAttributeList(envValue)
	}
	return nil
}

func (p *LDAPAuthProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewPasswordResource,
	}
}

func (p *LDAPAuthProvider) EphemeralResources(ctx context.Context) []func() ephemeral.EphemeralResource {
	return []func() ephemeral.EphemeralResource{
		NewLoginEphemeralResource,
	}
}

func (p *LDAPAuthProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewUsersDataSource,
		NewConnectionCheckDataSource,
		NewPasswordResetDataSource,
	}
}

func (p *LDAPAuthProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewPasswordResetURLFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LDAPAuthProvider{
			version: version,
		}
	}
}

// providerDataError reports provider data of an unexpected type.
func providerDataError(kind string, got any) (string, string) {
	return "Unexpected " + kind + " Configure Type",
		fmt.Sprintf("Expected *provider.ProviderData, got: %T. Please report this issue to the provider developers.", got)
}
