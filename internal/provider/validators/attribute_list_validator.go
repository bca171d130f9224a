package validators

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

var _ validator.String = attributeListValidator{}

type attributeListValidator struct{}

func (v attributeListValidator) Description(_ context.Context) string {
	return "value must be a comma-separated list naming at least one attribute"
}

func (v attributeListValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v attributeListValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if len(ldap.ParseAttributeList(value)) == 0 {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid Attribute List",
			fmt.Sprintf("The value %q does not name any attribute", value),
		)
	}
}

// IsAttributeList returns a validator which ensures that a comma-separated
// attribute list names at least one attribute.
func IsAttributeList() validator.String {
	return attributeListValidator{}
}
