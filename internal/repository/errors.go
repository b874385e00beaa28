package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates a row violated a ledger constraint.
var ErrInvalidArgument = errors.New("repository: invalid argument")
