// Package cdc streams row changes from PostgreSQL logical replication to
// registered handlers.
package cdc

import (
	"time"
)

type OperationType string

const (
	OperationInsert OperationType = "INSERT"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// ChangeEvent is one decoded row change. Column values arrive as text or nil.
type ChangeEvent struct {
	TableName     string
	Operation     OperationType
	Timestamp     time.Time
	NewData       map[string]interface{}
	OldData       map[string]interface{}
	PrimaryKey    map[string]interface{}
	TransactionID uint32
	LSN           uint64
}

type EventHandler interface {
	HandleChange(event *ChangeEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(event *ChangeEvent) error

func (f HandlerFunc) HandleChange(event *ChangeEvent) error {
	return f(event)
}
