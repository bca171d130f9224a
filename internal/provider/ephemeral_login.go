package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral/schema"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ ephemeral.EphemeralResource = &LoginEphemeralResource{}
var _ ephemeral.EphemeralResourceWithConfigure = &LoginEphemeralResource{}

func NewLoginEphemeralResource() ephemeral.EphemeralResource {
	return &LoginEphemeralResource{}
}

// LoginEphemeralResource verifies a username and password against the
// directory. Nothing it produces is written to state.
type LoginEphemeralResource struct {
	data *ProviderData
}

// LoginEphemeralResourceModel describes the ephemeral resource data model.
type LoginEphemeralResourceModel struct {
	Username          types.String `tfsdk:"username"`
	Password          types.String `tfsdk:"password"`
	CanonicalUsername types.String `tfsdk:"canonical_username"`
	DN                types.String `tfsdk:"dn"`
	IsAdmin           types.Bool   `tfsdk:"is_admin"`
	UserID            types.String `tfsdk:"user_id"`
}

func (r *LoginEphemeralResource) Metadata(ctx context.Context, req ephemeral.MetadataRequest, resp *ephemeral.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_login"
}

func (r *LoginEphemeralResource) Schema(ctx context.Context, req ephemeral.SchemaRequest, resp *ephemeral.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Authenticates a user against the directory. The login name is matched against the " +
			"configured username attributes, the password is verified by binding as the matched entry, and the local " +
			"user record is created or updated. A failed login is reported as an error.",
		Attributes: map[string]schema.Attribute{
			"username": schema.StringAttribute{
				MarkdownDescription: "Login name as typed by the user.",
				Required:            true,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Password to verify.",
				Required:            true,
				Sensitive:           true,
			},
			"canonical_username": schema.StringAttribute{
				MarkdownDescription: "Value of the primary username attribute on the matched entry.",
				Computed:            true,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the matched entry.",
				Computed:            true,
			},
			"is_admin": schema.BoolAttribute{
				MarkdownDescription: "Whether the user is an administrator.",
				Computed:            true,
			},
			"user_id": schema.StringAttribute{
				MarkdownDescription: "ID of the local user record.",
				Computed:            true,
			},
		},
	}
}

func (r *LoginEphemeralResource) Configure(ctx context.Context, req ephemeral.ConfigureRequest, resp *ephemeral.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	data, ok := req.ProviderData.(*ProviderData)
	if !ok {
		resp.Diagnostics.AddError(providerDataError("Ephemeral Resource", req.ProviderData))
		return
	}

	r.data = data
}

func (r *LoginEphemeralResource) Open(ctx context.Context, req ephemeral.OpenRequest, resp *ephemeral.OpenResponse) {
	ctx = initializeLogging(ctx)

	var data LoginEphemeralResourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldap.LogEphemeralOperation(ctx, "ldapauth_login", "open", map[string]any{
		"username": data.Username.ValueString(),
	})
	var opErr error
	defer func() { logCompletion(opErr) }()

	if err := r.data.Validate(ctx); err != nil {
		opErr = err
		resp.Diagnostics.AddError("Provider Not Configured", err.Error())
		return
	}

	outcome, err := r.data.Auth.Authenticate(ctx, data.Username.ValueString(), data.Password.ValueString())
	if err != nil {
		opErr = err
		kind := ldap.KindOf(err)
		tflog.Debug(ctx, "Login rejected", map[string]any{"error_kind": kind.String()})
		resp.Diagnostics.AddAttributeError(
			path.Root("username"),
			"Login Failed",
			loginFailureDetail(err),
		)
		return
	}

	data.CanonicalUsername = types.StringValue(outcome.Username)
	data.DN = types.StringValue(outcome.DN)
	data.IsAdmin = types.BoolValue(outcome.IsAdmin)
	data.UserID = types.StringValue(outcome.UserID)

	resp.Diagnostics.Append(resp.Result.Set(ctx, &data)...)
}

// loginFailureDetail shows the user-facing message and, for failures an
// operator must fix, the cause. Credential failures never say which part
// was wrong.
func loginFailureDetail(err error) string {
	var ae *ldap.AuthError
	if !errors.As(err, &ae) {
		return err.Error()
	}
	switch ae.Kind {
	case ldap.KindInvalidCredentials, ldap.KindUserNotFound:
		return ae.Kind.UserMessage()
	default:
		return fmt.Sprintf("%s\n\n%s", ae.Kind.UserMessage(), err.Error())
	}
}
