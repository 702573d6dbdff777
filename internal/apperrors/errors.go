// Package apperrors defines the sentinel errors shared across the application.
package apperrors

import (
	"errors"
)

var (
	ErrInvalidFormat      = errors.New("invalid format")
	ErrInvalidProjectCode = errors.New("project code must be 'P' followed by six digits")

	ErrStateMismatch   = errors.New("authorization state does not match")
	ErrExchangeFailed  = errors.New("authorization code exchange rejected")
	ErrRefreshFailed   = errors.New("credential refresh rejected")
	ErrAuthRequired    = errors.New("authentication required, run 'jiractl login'")
	ErrSiteNotResolved = errors.New("no accessible tracker site for this credential")

	ErrCredentialNotFound  = errors.New("no stored credential for session")
	ErrAuthSessionNotFound = errors.New("no pending authorization for session")
	ErrDecryptFailed       = errors.New("stored record could not be decrypted")

	ErrPermissionDenied = errors.New("tracker denied permission for this operation")
	ErrNoWorklogToUndo  = errors.New("no recorded worklog to undo")
)
