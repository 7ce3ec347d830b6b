package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/FairForge/roomd/internal/ledger"
)

// Memory is an in-process ledger.Store for development and tests
type Memory struct {
	mu      sync.RWMutex
	records map[int64]ledger.Record
	nextSeq int64
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		records: make(map[int64]ledger.Record),
		nextSeq: 1,
	}
}

// VerifySchema always succeeds
func (m *Memory) VerifySchema(ctx context.Context) error {
	return nil
}

// Append stores rec, assigning the next sequence id when none is set
func (m *Memory) Append(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.RequestID == rec.RequestID {
			return ledger.Record{}, fmt.Errorf("request %s already stored", rec.RequestID)
		}
	}

	if rec.SequenceID == 0 {
		rec.SequenceID = m.nextSeq
	} else if _, taken := m.records[rec.SequenceID]; taken {
		return ledger.Record{}, fmt.Errorf("sequence %d already stored", rec.SequenceID)
	}
	if rec.SequenceID >= m.nextSeq {
		m.nextSeq = rec.SequenceID + 1
	}

	m.records[rec.SequenceID] = rec
	return rec, nil
}

// List returns every record ordered by sequence id
func (m *Memory) List(ctx context.Context) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]ledger.Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SequenceID < records[j].SequenceID
	})
	return records, nil
}

// Get retrieves a record by sequence id
func (m *Memory) Get(ctx context.Context, seq int64) (ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[seq]
	if !ok {
		return ledger.Record{}, fmt.Errorf("sequence %d: %w", seq, ledger.ErrNotFound)
	}
	return r, nil
}

// Delete removes one record
func (m *Memory) Delete(ctx context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[seq]; !ok {
		return fmt.Errorf("sequence %d: %w", seq, ledger.ErrNotFound)
	}
	delete(m.records, seq)
	return nil
}

// DeleteAll removes every record; sequence ids keep increasing
func (m *Memory) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int64]ledger.Record)
	return nil
}
