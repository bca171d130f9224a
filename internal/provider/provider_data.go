package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
	"github.com/isometry/terraform-provider-ldapauth/internal/store"
)

// ProviderData is handed to every data source, resource and ephemeral
// resource once the provider is configured.
type ProviderData struct {
	Auth  *auth.Authenticator // Directory-backed login and credential operations
	Users *store.Store        // Local user records
}

// NewProviderData creates a new provider data wrapper.
func NewProviderData(authenticator *auth.Authenticator, users *store.Store) *ProviderData {
	return &ProviderData{
		Auth:  authenticator,
		Users: users,
	}
}

// Validate ensures the authenticator and user store are available.
func (pd *ProviderData) Validate(ctx context.Context) error {
	if pd == nil || pd.Auth == nil {
		return fmt.Errorf("authenticator is not initialized")
	}
	if pd.Users == nil {
		return fmt.Errorf("user store is not initialized")
	}

	tflog.Debug(ctx, "Provider data validation successful")
	return nil
}
