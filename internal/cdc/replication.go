package cdc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

const (
	OutputPlugin = "pgoutput"

	duplicateObject = "42710"
)

type ReplicationConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SlotName        string
	PublicationName string
	// Tables limits the publication; empty publishes all tables.
	Tables          []string
}

func (c *ReplicationConfig) connString(replication bool) string {
	s := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		c.Host, c.Port, c.Database, c.User, c.Password)
	if replication {
		s += " replication=database"
	}
	return s
}

func (c *ReplicationConfig) publicationTarget() string {
	if len(c.Tables) == 0 {
		return "ALL TABLES"
	}
	return "TABLE " + strings.Join(c.Tables, ", ")
}

type ReplicationClient struct {
	config    *ReplicationConfig
	conn      *pgconn.PgConn
	relations map[uint32]*pglogrepl.RelationMessage
	handler   EventHandler
	logger    hclog.Logger
	lastLSN   pglogrepl.LSN
}

func NewReplicationClient(config *ReplicationConfig, handler EventHandler, logger hclog.Logger) *ReplicationClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ReplicationClient{
		config:    config,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		handler:   handler,
		logger:    logger,
	}
}

func (rc *ReplicationClient) Connect(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, rc.config.connString(true))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	rc.conn = conn
	return nil
}

func (rc *ReplicationClient) CreateSlotIfNotExists(ctx context.Context) error {
	if rc.conn == nil {
		return fmt.Errorf("not connected")
	}

	result, err := pglogrepl.CreateReplicationSlot(
		ctx,
		rc.conn,
		rc.config.SlotName,
		OutputPlugin,
		pglogrepl.CreateReplicationSlotOptions{},
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateObject {
			return nil
		}
		return fmt.Errorf("failed to create replication slot: %w", err)
	}

	rc.logger.Info("created replication slot", "slot", result.SlotName, "lsn", result.ConsistentPoint)
	return nil
}

func (rc *ReplicationClient) DropSlot(ctx context.Context) error {
	if rc.conn == nil {
		return fmt.Errorf("not connected")
	}

	err := pglogrepl.DropReplicationSlot(ctx, rc.conn, rc.config.SlotName, pglogrepl.DropReplicationSlotOptions{})
	if err != nil {
		return fmt.Errorf("failed to drop replication slot: %w", err)
	}

	return nil
}

func (rc *ReplicationClient) StartReplication(ctx context.Context, startLSN pglogrepl.LSN) error {
	if rc.conn == nil {
		return fmt.Errorf("not connected")
	}

	pluginArguments := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", rc.config.PublicationName),
	}

	err := pglogrepl.StartReplication(
		ctx,
		rc.conn,
		rc.config.SlotName,
		startLSN,
		pglogrepl.StartReplicationOptions{
			PluginArgs: pluginArguments,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}

	return nil
}

func (rc *ReplicationClient) ReceiveMessage(ctx context.Context) error {
	if rc.conn == nil {
		return fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	msg, err := rc.conn.ReceiveMessage(ctx)
	if err != nil {
		if pgconn.Timeout(err) {
			return nil
		}
		return fmt.Errorf("receive message failed: %w", err)
	}

	switch msg := msg.(type) {
	case *pgproto3.CopyData:
		return rc.handleCopyData(ctx, msg.Data)
	case *pgproto3.ErrorResponse:
		return fmt.Errorf("replication error: %s", msg.Message)
	default:
		return nil
	}
}

func (rc *ReplicationClient) handleCopyData(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		return rc.handleKeepalive(ctx, data[1:])
	case pglogrepl.XLogDataByteID:
		return rc.handleXLogData(data[1:])
	}

	return nil
}

func (rc *ReplicationClient) handleKeepalive(ctx context.Context, data []byte) error {
	pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(data)
	if err != nil {
		return fmt.Errorf("failed to parse keepalive: %w", err)
	}

	if pkm.ReplyRequested {
		lsn := rc.lastLSN
		if lsn == 0 {
			lsn = pkm.ServerWALEnd
		}
		return rc.SendStandbyStatusUpdate(ctx, lsn)
	}

	return nil
}

func (rc *ReplicationClient) handleXLogData(data []byte) error {
	xld, err := pglogrepl.ParseXLogData(data)
	if err != nil {
		return fmt.Errorf("failed to parse xlog data: %w", err)
	}

	if err := rc.processWALData(xld.WALData, uint64(xld.WALStart)); err != nil {
		return err
	}

	rc.lastLSN = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
	return nil
}

func (rc *ReplicationClient) processWALData(walData []byte, lsn uint64) error {
	logicalMsg, err := pglogrepl.Parse(walData)
	if err != nil {
		return fmt.Errorf("failed to parse logical replication message: %w", err)
	}

	var event *ChangeEvent
	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		rc.relations[msg.RelationID] = msg
		return nil

	case *pglogrepl.InsertMessage:
		event, err = rc.insertEvent(msg)

	case *pglogrepl.UpdateMessage:
		event, err = rc.updateEvent(msg)

	case *pglogrepl.DeleteMessage:
		event, err = rc.deleteEvent(msg)

	default:
		return nil
	}
	if err != nil {
		return err
	}

	event.LSN = lsn
	if rc.handler != nil {
		return rc.handler.HandleChange(event)
	}
	return nil
}

// LastLSN is the end of the most recent WAL record handed to the handler.
func (rc *ReplicationClient) LastLSN() pglogrepl.LSN {
	return rc.lastLSN
}

func (rc *ReplicationClient) SendStandbyStatusUpdate(ctx context.Context, lsn pglogrepl.LSN) error {
	if rc.conn == nil {
		return fmt.Errorf("not connected")
	}

	status := pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
	}

	return pglogrepl.SendStandbyStatusUpdate(ctx, rc.conn, status)
}

func (rc *ReplicationClient) Close(ctx context.Context) error {
	if rc.conn != nil {
		return rc.conn.Close(ctx)
	}
	return nil
}

func (rc *ReplicationClient) insertEvent(msg *pglogrepl.InsertMessage) (*ChangeEvent, error) {
	rel, ok := rc.relations[msg.RelationID]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID: %d", msg.RelationID)
	}

	values := tupleToMap(rel, msg.Tuple)

	return &ChangeEvent{
		TableName:  rel.RelationName,
		Operation:  OperationInsert,
		Timestamp:  time.Now(),
		NewData:    values,
		PrimaryKey: extractPrimaryKey(rel, values),
	}, nil
}

func (rc *ReplicationClient) updateEvent(msg *pglogrepl.UpdateMessage) (*ChangeEvent, error) {
	rel, ok := rc.relations[msg.RelationID]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID: %d", msg.RelationID)
	}

	newValues := tupleToMap(rel, msg.NewTuple)
	var oldValues map[string]interface{}
	if msg.OldTuple != nil {
		oldValues = tupleToMap(rel, msg.OldTuple)
	}

	return &ChangeEvent{
		TableName:  rel.RelationName,
		Operation:  OperationUpdate,
		Timestamp:  time.Now(),
		NewData:    newValues,
		OldData:    oldValues,
		PrimaryKey: extractPrimaryKey(rel, newValues),
	}, nil
}

func (rc *ReplicationClient) deleteEvent(msg *pglogrepl.DeleteMessage) (*ChangeEvent, error) {
	rel, ok := rc.relations[msg.RelationID]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID: %d", msg.RelationID)
	}

	var values map[string]interface{}
	if msg.OldTuple != nil {
		values = tupleToMap(rel, msg.OldTuple)
	}

	return &ChangeEvent{
		TableName:  rel.RelationName,
		Operation:  OperationDelete,
		Timestamp:  time.Now(),
		OldData:    values,
		PrimaryKey: extractPrimaryKey(rel, values),
	}, nil
}

func tupleToMap(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) map[string]interface{} {
	values := make(map[string]interface{})
	if tuple == nil {
		return values
	}

	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		colName := rel.Columns[i].Name

		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[colName] = nil
		case pglogrepl.TupleDataTypeText:
			values[colName] = string(col.Data)
		}
	}

	return values
}

func extractPrimaryKey(rel *pglogrepl.RelationMessage, values map[string]interface{}) map[string]interface{} {
	pk := make(map[string]interface{})

	for _, col := range rel.Columns {
		if col.Flags == 1 {
			if val, ok := values[col.Name]; ok {
				pk[col.Name] = val
			}
		}
	}

	return pk
}
