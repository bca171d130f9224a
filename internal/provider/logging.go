package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
)

// initializeLogging registers the provider, ldap and auth subsystems. It is
// called at the start of every data source, resource and ephemeral resource
// operation. Levels follow TF_LOG_PROVIDER_LDAPAUTH_<SUBSYSTEM>.
func initializeLogging(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, ldap.SubsystemProvider,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAPAUTH_PROVIDER"))
	ctx = tflog.NewSubsystem(ctx, ldap.SubsystemLDAP,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAPAUTH_LDAP"))
	ctx = tflog.NewSubsystem(ctx, ldap.SubsystemAuth,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAPAUTH_AUTH"))
	return tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, ldap.SubsystemAuth, "password", "new_password")
}
