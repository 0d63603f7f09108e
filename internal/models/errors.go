package models

import "errors"

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLastImageProtected  = errors.New("last remaining image cannot be discarded")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state for operation")
	ErrTransactionConflict = errors.New("transaction conflict")
)
