package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tetherctl/internal/model"
)

var header = []string{
	"id",
	"phone_name",
	"interface",
	"started_at",
	"ended_at",
	"duration_sec",
	"bytes_transferred",
}

// WriteCSV writes sessions to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.Session) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, s := range items {
		if err := writer.Write(record(s)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// AppendCSV appends sessions to path, writing the header only when the file
// is new or empty.
func AppendCSV(path string, items []model.Session) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	for _, s := range items {
		if err := writer.Write(record(s)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func record(s model.Session) []string {
	return []string{
		s.ID,
		s.PhoneName,
		s.InterfaceName,
		s.StartedAt.UTC().Format(time.RFC3339Nano),
		s.EndedAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(s.Duration().Seconds(), 'f', 3, 64),
		strconv.FormatUint(s.BytesTransferred, 10),
	}
}

// History is the session sink backed by a CSV file. AppendCSV is not safe
// for concurrent writers, so History serializes them.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory returns a History writing to path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Path returns the backing file.
func (h *History) Path() string {
	return h.path
}

// SessionClosed appends s to the history file.
func (h *History) SessionClosed(s model.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return AppendCSV(h.path, []model.Session{s})
}

// Sessions reads the whole history. A missing file is an empty history.
func (h *History) Sessions() ([]model.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	items, err := ReadCSV(h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return items, err
}
