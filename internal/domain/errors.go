package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrAuth              = errors.New("auth failed")
	ErrSession           = errors.New("session create failed")
	ErrNoAccounts        = errors.New("no accounts available")
	ErrAllAccountsFailed = errors.New("all accounts failed")
	ErrUpstream          = errors.New("upstream error")
	ErrRateLimited       = errors.New("rate limited")
)
