package scanguard

import "errors"

var (
	// ErrBanCheck wraps store failures on the gating path so callers can tell
	// them apart from "not banned".
	ErrBanCheck = errors.New("ban check failed")
	// ErrBanWrite wraps store failures while issuing an automatic ban.
	ErrBanWrite       = errors.New("ban write failed")
	ErrInvalidAddress = errors.New("invalid ip address")
	ErrNotFound       = errors.New("ban not found")
	ErrUnauthorized   = errors.New("unauthorized")
)
