package models

import "errors"

var (
	ErrAmbiguousLog        = errors.New("network log does not contain exactly one matching entry")
	ErrMenuRequestNotFound = errors.New("estate menu request not found in network log")
	ErrElementNotFound     = errors.New("page element not found")
	ErrUnexpectedShape     = errors.New("unexpected response shape")
)
