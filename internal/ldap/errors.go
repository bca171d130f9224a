package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Kind classifies an authentication failure. Each kind maps to one opaque
// user-facing message; the wrapped error carries the operator detail.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionFailed
	KindInvalidCredentials
	KindUserNotFound
	KindMalformedEntry
	KindAdminCheckFailed
	KindProvisioningDisabled
	KindNotSupported
	KindMisconfigured
	KindUserStoreFailed
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection_failed"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUserNotFound:
		return "user_not_found"
	case KindMalformedEntry:
		return "malformed_entry"
	case KindAdminCheckFailed:
		return "admin_check_failed"
	case KindProvisioningDisabled:
		return "provisioning_disabled"
	case KindNotSupported:
		return "not_supported"
	case KindMisconfigured:
		return "misconfigured"
	case KindUserStoreFailed:
		return "user_store_failed"
	default:
		return "unknown"
	}
}

// UserMessage is the text safe to show to the person logging in. Unknown
// users and bad passwords share a message so accounts cannot be enumerated.
func (k Kind) UserMessage() string {
	switch k {
	case KindInvalidCredentials, KindUserNotFound:
		return "Invalid username or password."
	case KindConnectionFailed:
		return "The directory service is unavailable. Try again later."
	case KindProvisioningDisabled:
		return "This account is not allowed to sign in. Contact your administrator."
	case KindNotSupported:
		return "This operation is not supported for directory accounts."
	case KindMisconfigured:
		return "Directory authentication is misconfigured. Contact your administrator."
	default:
		return "Authentication failed. Contact your administrator."
	}
}

// AuthError is the error type returned by every directory and authentication
// operation.
type AuthError struct {
	Kind Kind   // Failure classification
	Op   string // Operation that failed
	DN   string // DN involved, if any
	Err  error  // Underlying cause
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrConnectionFailed     = &AuthError{Kind: KindConnectionFailed}
	ErrInvalidCredentials   = &AuthError{Kind: KindInvalidCredentials}
	ErrUserNotFound         = &AuthError{Kind: KindUserNotFound}
	ErrMalformedEntry       = &AuthError{Kind: KindMalformedEntry}
	ErrAdminCheckFailed     = &AuthError{Kind: KindAdminCheckFailed}
	ErrProvisioningDisabled = &AuthError{Kind: KindProvisioningDisabled}
	ErrNotSupported         = &AuthError{Kind: KindNotSupported}
	ErrMisconfigured        = &AuthError{Kind: KindMisconfigured}
	ErrUserStoreFailed      = &AuthError{Kind: KindUserStoreFailed}
)

func (e *AuthError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	if e.DN != "" {
		fmt.Fprintf(&b, " (DN: %s)", e.DN)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches a sentinel of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// NewAuthError creates an AuthError, categorizing directory errors on the way.
func NewAuthError(kind Kind, op string, err error) *AuthError {
	if err != nil {
		var le *LDAPError
		var re *ldap.Error
		if !errors.As(err, &le) && errors.As(err, &re) {
			err = NewLDAPError(op, err)
		}
	}
	return &AuthError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first AuthError in err's chain.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries an AuthError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrorCategory represents different categories of directory protocol errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryReferral       ErrorCategory = "referral"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError adds result code detail to a failed directory operation.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	MatchedDN string        // Matched DN reported by the server
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.MatchedDN != "" {
		parts = append(parts, fmt.Sprintf("matched DN: %s", e.MatchedDN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError creates a categorized LDAP error.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		ldapErr.MatchedDN = resultErr.MatchedDN
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Message = getLDAPCodeMessage(resultErr.ResultCode)
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultConfidentialityRequired,
		ldap.ErrorEmptyPassword:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultReferral,
		ldap.LDAPResultReferralLimitExceeded:
		return ErrorCategoryReferral

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError,
		ldap.ErrorNetwork:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "certificate"),
		strings.Contains(errStr, "x509"),
		strings.Contains(errStr, "tls"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "refused"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "credentials"),
		strings.Contains(errStr, "password"):
		return ErrorCategoryAuthentication
	default:
		return ErrorCategoryUnknown
	}
}

// getLDAPCodeMessage returns a human-readable message for an LDAP result code.
func getLDAPCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsAuthenticationError checks if an error indicates rejected credentials.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}
