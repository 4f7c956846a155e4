// Package booking is the appointment orchestrator: it turns a confirmed
// (patient, motive, slot) tuple into an availability reservation and an
// append-only booking record. No real calendar is written — the log IS the
// booking action, kept human-readable for auditing.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/pkg/types"
)

// Record is one full-argument audit entry. A record is appended for every
// submission attempt, successful or not, before the outcome is reported
// upstream.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    uuid.UUID `json:"request_id"`
	BookingID    uuid.UUID `json:"booking_id,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Birthdate    string    `json:"birthdate"`
	MotiveID     string    `json:"motive_id"`
	MotiveName   string    `json:"motive_name"`
	SlotID       uuid.UUID `json:"slot_id"`
	StartTime    time.Time `json:"start_time"`
	Practitioner string    `json:"practitioner"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
}

// newRecord flattens a BookingRequest into its audit form.
func newRecord(req types.BookingRequest, outcome string, err error) Record {
	rec := Record{
		Timestamp:    time.Now().UTC(),
		RequestID:    req.ID,
		FirstName:    req.Patient.FirstName,
		LastName:     req.Patient.LastName,
		Birthdate:    req.Patient.Birthdate.String(),
		MotiveID:     req.Motive.ID,
		MotiveName:   req.Motive.Name,
		SlotID:       req.Slot.ID,
		StartTime:    req.Slot.StartTime,
		Practitioner: req.Slot.PractitionerName,
		Outcome:      outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Log is the append-only booking log. Appends must be atomic per record so
// concurrent sessions never interleave.
type Log interface {
	Append(ctx context.Context, rec Record) error
}

// FileLog persists records as JSON lines in a local file. Each append is a
// single write under the mutex, so concurrent sessions cannot corrupt a line.
type FileLog struct {
	mu   sync.Mutex
	path string
}

// NewFileLog creates a FileLog writing to path. The file is created on first
// append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Append writes one record as a JSON line.
func (l *FileLog) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("booking: marshal record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("booking: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("booking: append: %w", err)
	}
	return nil
}

// Read returns all records in the log, for tests and audits.
func (l *FileLog) Read() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("booking: read log: %w", err)
	}

	var out []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("booking: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
