// Package journal records delivered events as JSON lines and replays them.
// Files whose name ends in ".zst" are zstd-compressed.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/zulip/client-go/internal/api"
)

// CompressedSuffix selects zstd compression.
const CompressedSuffix = ".zst"

// maxLineSize bounds one recorded event.
const maxLineSize = 16 << 20

// Record is one journal line.
type Record struct {
	// RecordedAt is when the event was written.
	RecordedAt time.Time `json:"recorded_at"`
	// QueueID is the queue the event was delivered from, if known.
	QueueID string    `json:"queue_id,omitempty"`
	Event   api.Event `json:"event"`
}

// Writer appends records to a journal file. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	now  func() time.Time
}

// Create opens path for appending, creating it with mode 0600 if needed.
// Appending to a compressed journal adds a new zstd frame, which readers
// decode transparently.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	w := &Writer{file: file, now: time.Now}
	var out io.Writer = file
	if strings.HasSuffix(path, CompressedSuffix) {
		w.zw, err = zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		out = w.zw
	}
	w.buf = bufio.NewWriter(out)
	return w, nil
}

// Write appends one event.
func (w *Writer) Write(queueID string, event api.Event) error {
	line, err := json.Marshal(Record{
		RecordedAt: w.now().UTC(),
		QueueID:    queueID,
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", event.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Flush writes buffered records to the file. Compressed journals are only
// complete after Close.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if w.zw != nil {
		if err := w.zw.Flush(); err != nil {
			return fmt.Errorf("flush journal: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the journal.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.buf.Flush()
	if w.zw != nil {
		err = errors.Join(err, w.zw.Close())
	}
	err = errors.Join(err, w.file.Close())
	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Reader reads records in the order they were written.
type Reader struct {
	file    *os.File
	zr      *zstd.Decoder
	scanner *bufio.Scanner
	line    int
}

// Open opens a journal for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	r := &Reader{file: file}
	var in io.Reader = file
	if strings.HasSuffix(path, CompressedSuffix) {
		r.zr, err = zstd.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		in = r.zr
	}
	r.scanner = bufio.NewScanner(in)
	r.scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return r, nil
}

// Next returns the next record, or io.EOF at the end of the journal.
// Blank lines are skipped.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", r.line, err)
		}
		return &rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return nil, io.EOF
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.file.Close()
}

// Replay calls handler for every recorded event in order. It stops at the
// first handler error or when ctx is cancelled.
func Replay(ctx context.Context, path string, handler func(ctx context.Context, event api.Event) error) (int, error) {
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := handler(ctx, rec.Event); err != nil {
			return n, fmt.Errorf("replay event %d: %w", rec.Event.ID, err)
		}
		n++
	}
}
