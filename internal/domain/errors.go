package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrLookup              = errors.New("lookup failed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrTransport           = errors.New("transport failure")
	ErrSigning             = errors.New("signing failed")
	ErrDestinationUnfunded = errors.New("destination must be funded first with native currency")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
	ErrNotLoggedIn         = errors.New("no active session")
	ErrSuperseded          = errors.New("superseded by a later session change")
)
