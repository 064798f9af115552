// Package recon keeps the out-of-band record of orders abandoned due to
// unrecoverable submission errors, for manual operator review.
package recon

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"main/internal/exchange"
)

var ErrClosed = errors.New("recon writer closed")

// Record is one abandoned order.
type Record struct {
	Time    time.Time          `json:"time"`
	OrderID int64              `json:"orderId"`
	Spec    exchange.OrderSpec `json:"spec"`
	Reason  string             `json:"reason"`
}

// Sink receives abandoned-order records.
type Sink interface {
	Append(Record) error
}

// Writer appends JSON-lines records to a file, syncing after each write.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewWriter opens (or creates) the reconciliation file for appending.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f}, nil
}

// Append writes one record and forces it to stable storage.
func (w *Writer) Append(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	line, err := sonic.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the file. Further appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// Discard is a Sink that drops every record, for tests and simulate runs.
type Discard struct{}

// Append implements Sink.
func (Discard) Append(Record) error { return nil }
