package zulip

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExportedQueue_Validate(t *testing.T) {
	valid := ExportedQueue{
		Version:     ExportVersion,
		Site:        "https://chat.example.com/api/",
		Email:       "bot@example.com",
		QueueID:     "q1",
		LastEventID: 4,
	}
	tests := []struct {
		name   string
		mutate func(*ExportedQueue)
		ok     bool
	}{
		{"valid", func(*ExportedQueue) {}, true},
		{"fresh queue", func(e *ExportedQueue) { e.LastEventID = -1 }, true},
		{"wrong version", func(e *ExportedQueue) { e.Version = 2 }, false},
		{"no site", func(e *ExportedQueue) { e.Site = "" }, false},
		{"bad email", func(e *ExportedQueue) { e.Email = "bot" }, false},
		{"no queue", func(e *ExportedQueue) { e.QueueID = "" }, false},
		{"bad event id", func(e *ExportedQueue) { e.LastEventID = -2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidImportData) {
				t.Errorf("Validate() error = %v, want ErrInvalidImportData", err)
			}
		})
	}
}

func TestExportQueueToFile(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)
	path := filepath.Join(t.TempDir(), "queue.json")

	handle := QueueHandle{QueueID: "q9", LastEventID: 12}
	if err := client.ExportQueueToFile(handle, path, WithEventTypes("message")); err != nil {
		t.Fatalf("ExportQueueToFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	imported, err := client.ImportQueueFromFile(path)
	if err != nil {
		t.Fatalf("ImportQueueFromFile() error = %v", err)
	}
	if imported.Handle() != handle {
		t.Errorf("Handle() = %+v, want %+v", imported.Handle(), handle)
	}
	if len(imported.EventTypes) != 1 || imported.EventTypes[0] != "message" {
		t.Errorf("EventTypes = %v", imported.EventTypes)
	}

	if err := client.ExportQueueToFile(QueueHandle{}, path); !errors.Is(err, ErrInvalidImportData) {
		t.Errorf("ExportQueueToFile(zero handle) error = %v", err)
	}
}

func TestImportQueueFromFile_Errors(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)
	dir := t.TempDir()

	write := func(name string, v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	other := client.ExportQueue(QueueHandle{QueueID: "q1"})
	other.Email = "someone@example.com"

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"missing", filepath.Join(dir, "missing.json"), os.ErrNotExist},
		{"invalid json", invalid, ErrInvalidImportData},
		{"invalid data", write("empty.json", map[string]any{"version": 1}), ErrInvalidImportData},
		{"other user", write("other.json", other), ErrQueueMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ImportQueueFromFile(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ImportQueueFromFile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithQueueFile_Resumes(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)
	path := filepath.Join(t.TempDir(), "queue.json")

	f.push(`{"id":5,"type":"presence"}`)
	ctx, cancel := context.WithCancel(context.Background())
	err := client.CallOnEachEvent(ctx, func(context.Context, Event) error {
		cancel()
		return nil
	}, WithQueueFile(path))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("first run error = %v", err)
	}
	if f.count("deregister") != 0 {
		t.Errorf("queue deregistered despite WithQueueFile: %v", f.recorded())
	}

	saved, err := client.ImportQueueFromFile(path)
	if err != nil {
		t.Fatalf("ImportQueueFromFile() error = %v", err)
	}
	if saved.QueueID != "q1" || saved.LastEventID != 5 {
		t.Errorf("saved = %+v", saved)
	}

	f.push(`{"id":6,"type":"presence"}`)
	ctx, cancel = context.WithCancel(context.Background())
	err = client.CallOnEachEvent(ctx, func(context.Context, Event) error {
		cancel()
		return nil
	}, WithQueueFile(path))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("second run error = %v", err)
	}
	if f.count("register") != 1 {
		t.Errorf("calls = %v, want a single register", f.recorded())
	}
	if f.count("poll q1 5") != 1 {
		t.Errorf("calls = %v, want the resumed poll", f.recorded())
	}
}

func TestWithQueueFile_ExpiredQueueIsReplaced(t *testing.T) {
	f := newFakeZulip(t)
	client := newTestClient(t, f)
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := client.ExportQueueToFile(QueueHandle{QueueID: "stale", LastEventID: 40}, path); err != nil {
		t.Fatal(err)
	}
	f.expire("stale")
	f.push(`{"id":0,"type":"presence"}`)

	ctx, cancel := context.WithCancel(context.Background())
	err := client.CallOnEachEvent(ctx, func(context.Context, Event) error {
		cancel()
		return nil
	}, WithQueueFile(path))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CallOnEachEvent() error = %v", err)
	}

	saved, err := client.ImportQueueFromFile(path)
	if err != nil {
		t.Fatalf("ImportQueueFromFile() error = %v", err)
	}
	if saved.QueueID != "q1" || saved.LastEventID != 0 {
		t.Errorf("saved = %+v, want the replacement queue", saved)
	}
}
