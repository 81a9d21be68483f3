package domain

import "errors"

// Errors surfaced to callers of the link core.
var (
	ErrNotFound           = errors.New("short link not found")
	ErrExpired            = errors.New("short link has expired")
	ErrQuotaExceeded      = errors.New("active link quota exceeded for tier")
	ErrQuotaUnavailable   = errors.New("quota could not be verified")
	ErrAliasCollision     = errors.New("alias is already taken")
	ErrAliasNotPermitted  = errors.New("custom aliases are not available on this tier")
	ErrInvalidAlias       = errors.New("invalid alias")
	ErrInvalidURL         = errors.New("invalid destination url")
	ErrInvalidExpiry      = errors.New("expiry must be in the future")
	ErrInvalidTags        = errors.New("invalid tags")
	ErrInvalidPage        = errors.New("invalid page")
	ErrForbidden          = errors.New("link belongs to another account")
	ErrAllocatorExhausted = errors.New("short code space exhausted")
)

// ErrMetadataFetchFailed is logged by the enrichment workers and never returned to a request.
var ErrMetadataFetchFailed = errors.New("metadata fetch failed")
