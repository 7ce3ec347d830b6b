// internal/ledger/types.go
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of an allocation attempt
type Status string

const (
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusDuplicate Status = "duplicate"
	StatusError     Status = "error"
)

// Request asks for rooms and labs on behalf of a requester
type Request struct {
	RequestID string
	Requester string
	Rooms     int
	Labs      int
}

// Validate rejects requests that cannot be allocated
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.RequestID) == "":
		return fmt.Errorf("%w: request_id is required", ErrMalformedRequest)
	case strings.TrimSpace(r.Requester) == "":
		return fmt.Errorf("%w: requester is required", ErrMalformedRequest)
	case r.Rooms < 1:
		return fmt.Errorf("%w: rooms_requested must be at least 1", ErrMalformedRequest)
	case r.Labs < 1:
		return fmt.Errorf("%w: labs_requested must be at least 1", ErrMalformedRequest)
	}
	return nil
}

// Record is a durable grant of rooms and labs
type Record struct {
	SequenceID     int64     `json:"sequence_id"`
	RequestID      string    `json:"request_id"`
	Requester      string    `json:"requester"`
	RoomsAllocated int       `json:"rooms_allocated"`
	LabsAllocated  int       `json:"labs_allocated"`
	CreatedAt      time.Time `json:"created_at"`
}

// Totals is the fixed capacity of both pools
type Totals struct {
	Rooms int `yaml:"rooms" json:"rooms"`
	Labs  int `yaml:"labs" json:"labs"`
}

// Pool is a snapshot of capacity and availability
type Pool struct {
	RoomsTotal     int `json:"rooms_total"`
	LabsTotal      int `json:"labs_total"`
	RoomsAvailable int `json:"rooms_available"`
	LabsAvailable  int `json:"labs_available"`
}

// RoomsAllocated returns the rooms currently granted
func (p Pool) RoomsAllocated() int { return p.RoomsTotal - p.RoomsAvailable }

// LabsAllocated returns the labs currently granted
func (p Pool) LabsAllocated() int { return p.LabsTotal - p.LabsAvailable }

// Result describes what Allocate granted
type Result struct {
	Status         Status
	RoomsGranted   int
	LabsGranted    int
	RoomsRemaining int
	LabsRemaining  int
	Record         Record
}

// SyncKind tags a replicated mutation
type SyncKind string

const (
	SyncReservation SyncKind = "reservation"
	SyncDeleteOne   SyncKind = "delete_one"
	SyncDeleteAll   SyncKind = "delete_all"
)

// SyncMessage is one mutation propagated from primary to backup
type SyncMessage struct {
	Kind       SyncKind `json:"kind"`
	Record     *Record  `json:"record,omitempty"`
	SequenceID int64    `json:"sequence_id,omitempty"`
}

// ReservationMessage wraps a committed record for replication
func ReservationMessage(rec Record) SyncMessage {
	return SyncMessage{Kind: SyncReservation, Record: &rec}
}

// DeleteOneMessage replicates the removal of a single record
func DeleteOneMessage(seq int64) SyncMessage {
	return SyncMessage{Kind: SyncDeleteOne, SequenceID: seq}
}

// DeleteAllMessage replicates a full wipe
func DeleteAllMessage() SyncMessage {
	return SyncMessage{Kind: SyncDeleteAll}
}
