package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const footer = "ZapGo Ledger Audit"

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Manager struct {
	enabled      bool
	slackWebhook string
	httpClient   HTTPClient
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook string) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func NewManagerWithClient(enabled bool, slackWebhook string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   client,
	}
}

// SendTamperAlert reports a write to the ledger that is not a plain append.
func (m *Manager) SendTamperAlert(collection, operation, recordID, details string) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	msg := slackMessage{
		Text: "🚨 *LEDGER TAMPERING DETECTED*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Ledger Tampering Alert",
				Fields: []slackField{
					{Title: "Collection", Value: collection, Short: true},
					{Title: "Operation", Value: operation, Short: true},
					{Title: "Record ID", Value: recordID, Short: true},
					{Title: "Details", Value: details, Short: false},
				},
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) SendChainCorruptedAlert(position int, index uint64, reason, expectedHash, actualHash string) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	msg := slackMessage{
		Text: "🚨 *LEDGER CHAIN INTEGRITY VIOLATION*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Ledger Chain Broken",
				Fields: []slackField{
					{Title: "Position", Value: fmt.Sprintf("%d", position), Short: true},
					{Title: "Block Index", Value: fmt.Sprintf("%d", index), Short: true},
					{Title: "Reason", Value: reason, Short: false},
					{Title: "Expected", Value: expectedHash, Short: false},
					{Title: "Actual", Value: actualHash, Short: false},
				},
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) SendBookingMismatchAlert(bookingID string, index uint64, storedHash, computedHash string) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	msg := slackMessage{
		Text: "🚨 *BOOKING HASH MISMATCH*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Booking Block Tampered",
				Fields: []slackField{
					{Title: "Booking", Value: bookingID, Short: true},
					{Title: "Block Index", Value: fmt.Sprintf("%d", index), Short: true},
					{Title: "Stored Hash", Value: storedHash, Short: false},
					{Title: "Computed Hash", Value: computedHash, Short: false},
				},
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) SendSystemAlert(title, message, severity string) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	color := "danger"
	if severity == "warning" {
		color = "warning"
	} else if severity == "good" {
		color = "good"
	}

	msg := slackMessage{
		Text: fmt.Sprintf("🚨 *SYSTEM ALERT: %s*", title),
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: title,
				Fields: []slackField{
					{Title: "Message", Value: message, Short: false},
				},
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) sendSlackMessage(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.slackWebhook, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
