package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &UsersDataSource{}
var _ datasource.DataSourceWithConfigure = &UsersDataSource{}

func NewUsersDataSource() datasource.DataSource {
	return &UsersDataSource{}
}

// UsersDataSource lists directory entries under the base DN.
type UsersDataSource struct {
	data *ProviderData
}

// UsersDataSourceModel describes the data source data model.
type UsersDataSourceModel struct {
	Filter    types.String `tfsdk:"filter"`     // Search filter; defaults to the provider search_filter
	DNs       types.List   `tfsdk:"dns"`        // DNs of matching entries, in directory order
	UserCount types.Int64  `tfsdk:"user_count"` // Number of entries found
	ID        types.String `tfsdk:"id"`
}

func (d *UsersDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_users"
}

func (d *UsersDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Lists the Distinguished Names of directory entries under the provider `base_dn` that match a filter. " +
			"The search runs as the service account and follows referrals.",
		Attributes: map[string]schema.Attribute{
			"filter": schema.StringAttribute{
				MarkdownDescription: "LDAP search filter (e.g., `(&(objectClass=person)(mail=*@example.org))`). " +
					"Defaults to the provider `search_filter`.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidFilter(),
				},
			},
			"dns": schema.ListAttribute{
				MarkdownDescription: "Distinguished Names of the matching entries, in the order the directory returned them.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"user_count": schema.Int64Attribute{
				MarkdownDescription: "Number of matching entries.",
				Computed:            true,
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "Identifier derived from the effective filter.",
				Computed:            true,
			},
		},
	}
}

func (d *UsersDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
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

func (d *UsersDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	var data UsersDataSourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if err := d.data.Validate(ctx); err != nil {
		resp.Diagnostics.AddError("Provider Not Configured", err.Error())
		return
	}

	filter := data.Filter.ValueString()
	if filter == "" {
		filter = d.data.Auth.Settings().Directory.SearchFilter
	}

	logCompletion := ldap.LogDataSourceOperation(ctx, "ldapauth_users", "read", map[string]any{
		"filter": filter,
	})
	var opErr error
	defer func() { logCompletion(opErr) }()

	dns, err := d.data.Auth.SearchUsers(ctx, filter)
	if err != nil {
		opErr = err
		resp.Diagnostics.AddError(
			"Error Searching Directory",
			fmt.Sprintf("Could not search for users with filter %q: %s", filter, err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Directory search completed", map[string]any{
		"filter":     filter,
		"user_count": len(dns),
	})

	list, diags := types.ListValueFrom(ctx, types.StringType, dns)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	data.DNs = list
	data.UserCount = types.Int64Value(int64(len(dns)))
	data.ID = types.StringValue(searchID(d.data.Auth.Settings().Directory.BaseDN, filter))

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// searchID is a stable identifier for a search of baseDN with filter.
func searchID(baseDN, filter string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(baseDN) + "\x00" + filter))
	return "users-" + hex.EncodeToString(sum[:8])
}
