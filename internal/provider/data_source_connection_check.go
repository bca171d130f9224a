package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ datasource.DataSource = &ConnectionCheckDataSource{}
var _ datasource.DataSourceWithConfigure = &ConnectionCheckDataSource{}

func NewConnectionCheckDataSource() datasource.DataSource {
	return &ConnectionCheckDataSource{}
}

// ConnectionCheckDataSource reports each step of reaching the directory.
type ConnectionCheckDataSource struct {
	data *ProviderData
}

// ConnectionCheckDataSourceModel describes the data source data model.
type ConnectionCheckDataSourceModel struct {
	ID         types.String `tfsdk:"id"`
	Server     types.String `tfsdk:"server"`
	Connect    types.String `tfsdk:"connect"`
	StartTLS   types.String `tfsdk:"start_tls"`
	Bind       types.String `tfsdk:"bind"`
	BaseSearch types.String `tfsdk:"base_search"`
	EntryCount types.Int64  `tfsdk:"entry_count"`
	Success    types.Bool   `tfsdk:"success"`
}

func (d *ConnectionCheckDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_connection_check"
}

func (d *ConnectionCheckDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	step := func(name string) schema.StringAttribute {
		return schema.StringAttribute{
			MarkdownDescription: fmt.Sprintf("`%s`, `%s`, or the error returned by the %s step.", ldap.StepSuccess, ldap.StepNotStarted, name),
			Computed:            true,
		}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Connects to the directory with the provider settings and reports the outcome of each step: " +
			"connect, StartTLS, service account bind and a search of the base DN. Directory failures are reported in the " +
			"attributes rather than as errors, so the check can be inspected from configuration.",
		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Server URL that was checked.",
				Computed:            true,
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "Server URL that was checked.",
				Computed:            true,
			},
			"connect":     step("connect"),
			"start_tls":   step("StartTLS"),
			"bind":        step("bind"),
			"base_search": step("base search"),
			"entry_count": schema.Int64Attribute{
				MarkdownDescription: "Number of entries returned by the base search.",
				Computed:            true,
			},
			"success": schema.BoolAttribute{
				MarkdownDescription: "Whether every attempted step succeeded.",
				Computed:            true,
			},
		},
	}
}

func (d *ConnectionCheckDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
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

func (d *ConnectionCheckDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	ctx = initializeLogging(ctx)

	logCompletion := ldap.LogDataSourceOperation(ctx, "ldapauth_connection_check", "read", nil)
	var opErr error
	defer func() { logCompletion(opErr) }()

	if err := d.data.Validate(ctx); err != nil {
		opErr = err
		resp.Diagnostics.AddError("Provider Not Configured", err.Error())
		return
	}

	report, err := d.data.Auth.TestConnection(ctx)
	if err != nil {
		opErr = err
		resp.Diagnostics.AddError(
			"Invalid Directory Configuration",
			"The connection check could not start: "+err.Error(),
		)
		return
	}

	settings := d.data.Auth.Settings()
	server := settings.Directory.URL()
	if !report.Succeeded() {
		tflog.Warn(ctx, "Directory connection check failed", map[string]any{
			"server":      server,
			"connect":     report.Connect,
			"start_tls":   report.StartTLS,
			"bind":        report.Bind,
			"base_search": report.BaseSearch,
		})
	}

	data := ConnectionCheckDataSourceModel{
		ID:         types.StringValue(server),
		Server:     types.StringValue(server),
		Connect:    types.StringValue(report.Connect),
		StartTLS:   types.StringValue(report.StartTLS),
		Bind:       types.StringValue(report.Bind),
		BaseSearch: types.StringValue(report.BaseSearch),
		EntryCount: types.Int64Value(int64(report.EntryCount)),
		Success:    types.BoolValue(report.Succeeded()),
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
