package common

import "errors"

var (
	// local store errors
	ErrNotFound     = errors.New("not found")
	ErrLocalStorage = errors.New("local storage failure")
	ErrUnindexed    = errors.New("attribute is not indexed")

	// schema errors
	ErrUnknownTable          = errors.New("unknown table")
	ErrSoftDeleteUnsupported = errors.New("table does not support soft delete")

	// mutation errors
	ErrReservedField = errors.New("reserved field")
	ErrNoSession     = errors.New("no authenticated session")

	// remote errors
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrVersionConflict   = errors.New("version conflict")

	ErrInvalidToken = errors.New("invalid token")
)
