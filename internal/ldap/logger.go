package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Log subsystems used across the provider.
const (
	SubsystemLDAP     = "ldap"
	SubsystemAuth     = "auth"
	SubsystemProvider = "provider"
)

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	fields = SanitizeFields(fields)
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		if kind := KindOf(err); kind != KindUnknown {
			fields["error_kind"] = kind.String()
		}
		tflog.SubsystemError(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["operation"] = operation
	fields["error"] = err.Error()

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}
	fields["error_category"] = string(GetErrorCategory(err))

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, SubsystemLDAP, "Connection event", fields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, SubsystemLDAP, "Connection event", fields)
	case "connection_closed", "referral_followed":
		tflog.SubsystemTrace(ctx, SubsystemLDAP, "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Connection event", fields)
	}
}

// SanitizeFields copies fields, redacting anything that looks like a secret.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":      true,
		"passwd":        true,
		"new_password":  true,
		"bind_password": true,
		"secret":        true,
		"token":         true,
		"private_key":   true,
		"credential":    true,
		"credentials":   true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string looks like an inline credential.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogResourceOperation provides standardized entry/exit logging for Terraform resource operations.
func LogResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "resource", resource, operation, fields)
}

// LogDataSourceOperation provides standardized entry/exit logging for Terraform data source operations.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "data_source", dataSource, operation, fields)
}

// LogEphemeralOperation provides standardized entry/exit logging for Terraform ephemeral resource operations.
func LogEphemeralOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logProviderOperation(ctx, "ephemeral_resource", resource, operation, fields)
}

func logProviderOperation(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()
	fields = SanitizeFields(fields)

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields[kind] = name
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, SubsystemProvider, "Starting "+strings.ReplaceAll(kind, "_", " ")+" operation", entryFields)

	return func(err error) {
		exitFields := make(map[string]any, len(fields)+5)
		maps.Copy(exitFields, fields)
		exitFields[kind] = name
		exitFields["operation"] = operation
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["has_error"] = err != nil

		label := strings.ReplaceAll(kind, "_", " ")
		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, SubsystemProvider, strings.ToUpper(label[:1])+label[1:]+" operation failed", exitFields)
		} else {
			tflog.SubsystemDebug(ctx, SubsystemProvider, strings.ToUpper(label[:1])+label[1:]+" operation completed", exitFields)
		}
	}
}
