package cdc

import "errors"

// TamperingDetector is implemented by handler errors that report tampering
// rather than a processing failure.
type TamperingDetector interface {
	error
	IsTampering() bool
	GetTableName() string
	GetOperation() string
}

func isTampering(err error) bool {
	var td TamperingDetector
	return errors.As(err, &td) && td.IsTampering()
}
