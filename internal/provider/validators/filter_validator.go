package validators

import (
	"context"
	"fmt"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ validator.String = filterValidator{}

type filterValidator struct {
	allowDisabled bool
}

func (v filterValidator) Description(_ context.Context) string {
	if v.allowDisabled {
		return fmt.Sprintf("value must be an LDAP search filter, optionally containing {username}, or %q", ldap.AdminFilterDisabled)
	}
	return "value must be an LDAP search filter"
}

func (v filterValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v filterValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if v.allowDisabled && value == ldap.AdminFilterDisabled {
		return
	}

	// {username} is replaced at login; any escaped value keeps the filter well formed
	if _, err := goldap.CompileFilter(ldap.SubstituteUsername(value, "username")); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid LDAP Filter",
			fmt.Sprintf("The value %q is not a valid LDAP search filter: %s", value, err.Error()),
		)
	}
}

// IsValidFilter returns a validator which ensures that any configured
// attribute value compiles as an LDAP search filter.
func IsValidFilter() validator.String {
	return filterValidator{}
}

// IsValidAdminFilter is IsValidFilter that also accepts the value that
// disables administrator detection.
func IsValidAdminFilter() validator.String {
	return filterValidator{allowDisabled: true}
}
