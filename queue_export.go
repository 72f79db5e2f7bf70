package zulip

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// ExportVersion is the current export format version.
const ExportVersion = 1

// ExportedQueue contains everything needed to resume an event queue from
// another process.
type ExportedQueue struct {
	// Version is the export format version. MUST be 1.
	Version int `json:"version"`
	// Site is the normalized API root the queue lives on.
	Site string `json:"site"`
	// Email is the user owning the queue. MUST contain exactly one @.
	Email string `json:"email"`
	// QueueID is the server-side queue id. Non-empty.
	QueueID string `json:"queueId"`
	// LastEventID is the newest event already delivered.
	LastEventID int64 `json:"lastEventId"`
	// EventTypes and Narrow record the registration parameters.
	EventTypes []string   `json:"eventTypes,omitempty"`
	Narrow     [][]string `json:"narrow,omitempty"`
	// ExportedAt is the export timestamp (ISO 8601). Informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the exported data can be resumed.
func (e *ExportedQueue) Validate() error {
	if e.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidImportData, e.Version, ExportVersion)
	}
	if e.Site == "" {
		return fmt.Errorf("%w: site is required", ErrInvalidImportData)
	}
	if strings.Count(e.Email, "@") != 1 {
		return fmt.Errorf("%w: email must contain exactly one @", ErrInvalidImportData)
	}
	if e.QueueID == "" {
		return fmt.Errorf("%w: queueId is required", ErrInvalidImportData)
	}
	if e.LastEventID < -1 {
		return fmt.Errorf("%w: lastEventId %d is invalid", ErrInvalidImportData, e.LastEventID)
	}
	return nil
}

// Handle returns the queue handle to resume with WithQueueHandle.
func (e *ExportedQueue) Handle() QueueHandle {
	return QueueHandle{QueueID: e.QueueID, LastEventID: e.LastEventID}
}

// ExportQueue returns exportable data for a queue handle. opts should be the
// options the queue was registered with.
func (c *Client) ExportQueue(handle QueueHandle, opts ...WatchOption) *ExportedQueue {
	return c.exportQueue(newWatchConfig(opts), handle)
}

func (c *Client) exportQueue(w *watchConfig, handle QueueHandle) *ExportedQueue {
	return &ExportedQueue{
		Version:     ExportVersion,
		Site:        c.Site(),
		Email:       c.email,
		QueueID:     handle.QueueID,
		LastEventID: handle.LastEventID,
		EventTypes:  w.eventTypes,
		Narrow:      w.narrow,
		ExportedAt:  c.cfg.clock.Now().UTC(),
	}
}

// ExportQueueToFile writes a queue handle to a JSON file with secure
// permissions (0600).
func (c *Client) ExportQueueToFile(handle QueueHandle, filePath string, opts ...WatchOption) error {
	if !handle.Valid() {
		return fmt.Errorf("%w: queue handle has no queue id", ErrInvalidImportData)
	}
	return writeExport(filePath, c.ExportQueue(handle, opts...))
}

func writeExport(filePath string, data *ExportedQueue) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue data: %w", err) //coverage:ignore
	}

	if err := os.WriteFile(filePath, jsonData, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// ImportQueueFromFile reads and validates an exported queue. The queue must
// belong to this client's site and user.
func (c *Client) ImportQueueFromFile(filePath string) (*ExportedQueue, error) {
	jsonData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var data ExportedQueue
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("%w: parse queue data: %v", ErrInvalidImportData, err)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if data.Site != c.Site() || !strings.EqualFold(data.Email, c.email) {
		return nil, fmt.Errorf("%w: queue of %s on %s", ErrQueueMismatch, data.Email, data.Site)
	}
	return &data, nil
}

// loadQueueFile returns the handle stored in path, or a zero handle when
// the file does not exist yet.
func (c *Client) loadQueueFile(path string) (QueueHandle, error) {
	data, err := c.ImportQueueFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return QueueHandle{}, nil
	}
	if err != nil {
		return QueueHandle{}, err
	}
	return data.Handle(), nil
}

// saveQueueFile persists handle for a WithQueueFile subscription. A zero
// handle removes the file, since the queue is gone.
func (c *Client) saveQueueFile(w *watchConfig, handle QueueHandle) {
	logger := c.cfg.logger
	if !handle.Valid() {
		if err := os.Remove(w.queueFile); err != nil && !errors.Is(err, fs.ErrNotExist) && logger != nil {
			logger.Warn("remove queue file failed", "path", w.queueFile, "error", err)
		}
		return
	}
	if err := writeExport(w.queueFile, c.exportQueue(w, handle)); err != nil && logger != nil {
		logger.Warn("save queue file failed", "path", w.queueFile, "error", err)
	}
}
