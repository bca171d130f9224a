package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ datasource.DataSource = &PasswordResetDataSource{}
var _ datasource.DataSourceWithConfigure = &PasswordResetDataSource{}

func NewPasswordResetDataSource() datasource.DataSource {
	return &PasswordResetDataSource{}
}

// PasswordResetDataSource starts a password reset for a stored user.
type PasswordResetDataSource struct {
	data *ProviderData
}

// PasswordResetDataSourceModel describes the data source data model.
type PasswordResetDataSourceModel struct {
	Username  types.String `tfsdk:"username"`
	ID        types.String `tfsdk:"id"`
	URL       types.String `tfsdk:"url"`
	Action    types.String `tfsdk:"action"`
	ExpiresAt types.String `tfsdk:"expires_at"`
}

func (d *PasswordResetDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_password_reset"
}

func (d *PasswordResetDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Builds the password reset link for a user with a local record. Directory passwords cannot be " +
			"reset through a pin, so the user is sent to the configured `password_reset_url`.",
		Attributes: map[string]schema.Attribute{
			"username": schema.StringAttribute{
				MarkdownDescription: "Canonical username of the local user record.",
				Required:            true,
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "Same as `username`.",
				Computed:            true,
			},
			"url": schema.StringAttribute{
				MarkdownDescription: "Reset link with `$userId` and `$userName` substituted.",
				Computed:            true,
			},
			"action": schema.StringAttribute{
				MarkdownDescription: fmt.Sprintf("What the user must do next. Always `%s`.", string(auth.ActionInNetworkRequired)),
				Computed:            true,
			},
			"expires_at": schema.StringAttribute{
				MarkdownDescription: "RFC 3339 time after which the link should no longer be offered.",
				Computed:            true,
			},
		},
	}
}

func (d *PasswordResetDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	data, ok := req.ProviderData.(*ProviderData)
	if !ok {
		resp.Diagnostics.AddError(providerDataError("Data Source", req.ProviderData))
		return
	}

	d.data = data
}

func (d *PasswordResetDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	var data PasswordResetDataSourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldap.LogDataSourceOperation(ctx, "ldapauth_password_reset", "read", map[string]any{
		"username": data.Username.ValueString(),
	})
	var opErr error
	defer func() { logCompletion(opErr) }()

	if err := d.data.Validate(ctx); err != nil {
		opErr = err
		resp.Diagnostics.AddError("Provider Not Configured", err.Error())
		return
	}

	instruction, err := d.data.Auth.StartPasswordReset(ctx, data.Username.ValueString())
	if err != nil {
		opErr = err
		resp.Diagnostics.AddError(
			"Unable to Start Password Reset",
			fmt.Sprintf("Could not start a password reset for %q: %s", data.Username.ValueString(), err.Error()),
		)
		return
	}

	data.ID = data.Username
	data.URL = types.StringValue(instruction.URL)
	data.Action = types.StringValue(string(instruction.Action))
	data.ExpiresAt = types.StringValue(instruction.ExpiresAt.UTC().Format(time.RFC3339))

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
