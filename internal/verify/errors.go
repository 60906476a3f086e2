package verify

import (
	"errors"
	"fmt"
)

// TamperingError reports a change to the ledger that is not a valid append.
type TamperingError struct {
	TableName string
	Operation string
	Message   string
}

func (e *TamperingError) Error() string {
	return fmt.Sprintf("TAMPERING DETECTED: %s operation on %s table: %s",
		e.Operation, e.TableName, e.Message)
}

func (e *TamperingError) IsTampering() bool {
	return true
}

func (e *TamperingError) GetTableName() string {
	return e.TableName
}

func (e *TamperingError) GetOperation() string {
	return e.Operation
}

func NewTamperingError(tableName, operation, message string) *TamperingError {
	return &TamperingError{
		TableName: tableName,
		Operation: operation,
		Message:   message,
	}
}

func IsTamperingError(err error) bool {
	var te *TamperingError
	return errors.As(err, &te)
}

func AsTamperingError(err error) *TamperingError {
	var te *TamperingError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
