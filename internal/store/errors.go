package store

import (
	"errors"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
)

var (
	// ErrUsernameConflict is returned when a record for the username already exists
	ErrUsernameConflict = auth.ErrUserExists

	// ErrRecordNotFound is returned by Update when the record has been removed
	ErrRecordNotFound = errors.New("record not found")
)
