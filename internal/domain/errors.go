// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates a state-machine method was called from a
// state that does not permit it. Always a programming fault, never retried.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrBlocked indicates a task cannot start while it still has blockers.
var ErrBlocked = errors.New("task is blocked")
