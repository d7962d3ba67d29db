package extract

import "errors"

var (
	// ErrUnreadableSource is returned when a batch path or archive cannot be opened.
	ErrUnreadableSource = errors.New("extract: unreadable source")

	// ErrUnknownShape is returned when a JSON document matches none of the known layouts.
	ErrUnknownShape = errors.New("extract: unknown file shape")

	// ErrMissingField is returned when a record lacks a required field under every alias.
	ErrMissingField = errors.New("extract: missing required field")

	// ErrBadValue is returned when a field is present but not usable.
	ErrBadValue = errors.New("extract: unusable field value")

	// ErrInvalidPattern is returned for a malformed or unknown family glob.
	ErrInvalidPattern = errors.New("extract: invalid file pattern")

	// ErrUnknownField is returned when aliases are configured for an unknown canonical field.
	ErrUnknownField = errors.New("extract: unknown canonical field")
)
