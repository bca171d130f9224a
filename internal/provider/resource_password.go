package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ resource.Resource = &PasswordResource{}
var _ resource.ResourceWithConfigure = &PasswordResource{}

func NewPasswordResource() resource.Resource {
	return &PasswordResource{}
}

// PasswordResource writes a user's directory password with the service account.
type PasswordResource struct {
	data *ProviderData
}

// PasswordResourceModel describes the resource data model.
type PasswordResourceModel struct {
	ID       types.String `tfsdk:"id"`
	Username types.String `tfsdk:"username"`
	Password types.String `tfsdk:"password"`
}

func (r *PasswordResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_password"
}

func (r *PasswordResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Sets a user's directory password by replacing the provider `password_attribute` on the " +
			"entry matched for `username`. Requires `allow_password_change`. Destroying the resource leaves the " +
			"directory password unchanged.",
		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Same as `username`.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.UseStateForUnknown(),
				},
			},
			"username": schema.StringAttribute{
				MarkdownDescription: "Login name, matched against the username attributes like a login.",
				Required:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.RequiresReplace(),
				},
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "New password.",
				Required:            true,
				Sensitive:           true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
		},
	}
}

func (r *PasswordResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	data, ok := req.ProviderData.(*ProviderData)
	if !ok {
		resp.Diagnostics.AddError(providerDataError("Resource", req.ProviderData))
		return
	}

	r.data = data
}

func (r *PasswordResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	ctx = initializeLogging(ctx)

	var data PasswordResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !r.setPassword(ctx, "create", &data, resp.Diagnostics.AddError) {
		return
	}

	data.ID = data.Username
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *PasswordResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	// Passwords cannot be read back from the directory; state is kept as written.
	var data PasswordResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *PasswordResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	ctx = initializeLogging(ctx)

	var data PasswordResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !r.setPassword(ctx, "update", &data, resp.Diagnostics.AddError) {
		return
	}

	data.ID = data.Username
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *PasswordResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	ctx = initializeLogging(ctx)

	var data PasswordResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Info(ctx, "Removing password from state; the directory password is unchanged", map[string]any{
		"username": data.Username.ValueString(),
	})
}

func (r *PasswordResource) setPassword(ctx context.Context, operation string, data *PasswordResourceModel, addError func(string, string)) bool {
	username := data.Username.ValueString()

	logCompletion := ldap.LogResourceOperation(ctx, "ldapauth_password", operation, map[string]any{
		"username": username,
	})

	if err := r.data.Validate(ctx); err != nil {
		logCompletion(err)
		addError("Provider Not Configured", err.Error())
		return false
	}

	err := r.data.Auth.ChangePassword(ctx, username, data.Password.ValueString())
	logCompletion(err)
	if err != nil {
		addError(
			"Unable to Change Password",
			fmt.Sprintf("Could not change the directory password for %q: %s", username, err.Error()),
		)
		return false
	}
	return true
}
