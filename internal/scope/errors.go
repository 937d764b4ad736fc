package scope

import "errors"

var (
	ErrUnknownScope   = errors.New("unknown scope")
	ErrScopeExists    = errors.New("scope already exists")
	ErrScopeBusy      = errors.New("scope has child scopes")
	ErrInvalidValue   = errors.New("invalid value")
	ErrUnknownTunable = errors.New("unknown tunable")
)
