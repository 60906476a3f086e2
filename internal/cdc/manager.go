package cdc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/zapgo/zapgo/internal/alert"
)

const maxBackoff = 30 * time.Second

type Manager struct {
	config       *ReplicationConfig
	client       *ReplicationClient
	handlers     []EventHandler
	mu           sync.RWMutex
	currentLSN   pglogrepl.LSN
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
	alertManager *alert.Manager
	logger       hclog.Logger
}

func NewManager(config *ReplicationConfig, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		config:   config,
		handlers: make([]EventHandler, 0),
		stopCh:   make(chan struct{}),
		logger:   logger.Named("cdc"),
	}
}

func (m *Manager) AddHandler(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) SetAlertManager(am *alert.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertManager = am
}

func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.createPublicationIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}

	client := NewReplicationClient(m.config, m, m.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.CreateSlotIfNotExists(ctx); err != nil {
		client.Close(ctx)
		return fmt.Errorf("failed to create slot: %w", err)
	}

	m.client = client
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	if m.running {
		return fmt.Errorf("manager already running")
	}

	if m.client == nil {
		return fmt.Errorf("manager not initialized")
	}

	if err := m.client.StartReplication(ctx, m.GetLSN()); err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}

	m.running = true
	m.wg.Add(1)

	go m.receiveLoop(ctx)

	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	if !m.running {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()
	m.running = false

	if m.client != nil {
		return m.client.Close(ctx)
	}

	return nil
}

func (m *Manager) receiveLoop(ctx context.Context) {
	defer m.wg.Done()

	errorCount := 0

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := m.client.ReceiveMessage(ctx); err != nil {
			errorCount++
			backoff := backoffFor(errorCount)
			m.logger.Error("error receiving message", "error", err, "retry_in", backoff)

			m.mu.RLock()
			if m.alertManager != nil {
				_ = m.alertManager.SendSystemAlert(
					"Replication Connection Lost",
					fmt.Sprintf("Failed to receive replication message: %v. Retrying in %v...", err, backoff),
					"danger",
				)
			}
			m.mu.RUnlock()

			select {
			case <-time.After(backoff):
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		errorCount = 0
		if lsn := m.client.LastLSN(); lsn > m.GetLSN() {
			m.SetLSN(lsn)
		}
	}
}

func backoffFor(errorCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(errorCount))) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// HandleChange fans event out to every handler. Tampering reported by a
// handler is logged and does not stop the stream; any other error does.
func (m *Manager) HandleChange(event *ChangeEvent) error {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler.HandleChange(event); err != nil {
			if isTampering(err) {
				m.logger.Warn("tampering reported", "table", event.TableName, "operation", string(event.Operation), "error", err)
				continue
			}
			return fmt.Errorf("handler failed: %w", err)
		}
	}

	return nil
}

func (m *Manager) createPublicationIfNotExists(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, m.config.connString(false))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)",
		m.config.PublicationName,
	).Scan(&exists)

	if err != nil {
		return fmt.Errorf("failed to check publication: %w", err)
	}

	if !exists {
		_, err = conn.Exec(ctx,
			fmt.Sprintf("CREATE PUBLICATION %s FOR %s",
				pgx.Identifier{m.config.PublicationName}.Sanitize(), m.config.publicationTarget()),
		)
		if err != nil {
			return fmt.Errorf("failed to create publication: %w", err)
		}
		m.logger.Info("created publication", "publication", m.config.PublicationName)
	}

	return nil
}

func (m *Manager) SetLSN(lsn pglogrepl.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLSN = lsn
}

func (m *Manager) GetLSN() pglogrepl.LSN {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLSN
}
