// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the durable record collaborator behind a Ledger
type Store interface {
	// VerifySchema fails with ErrIncompatibleSchema when the store layout is wrong
	VerifySchema(ctx context.Context) error
	// Append persists rec; a zero SequenceID is assigned by the store
	Append(ctx context.Context, rec Record) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, seq int64) (Record, error)
	Delete(ctx context.Context, seq int64) error
	DeleteAll(ctx context.Context) error
}

// Publisher receives every local mutation in commit order. It is called with
// the ledger lock held and must not block.
type Publisher func(SyncMessage)

// Ledger owns the pool counters and serializes every mutation behind one lock.
// Availability always equals totals minus the sum of stored grants.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
	totals Totals
	now    func() time.Time
	notify Publisher

	roomsAvailable int
	labsAvailable  int

	// request_id -> record, and sequence_id -> request_id
	byRequest map[string]Record
	bySeq     map[int64]string
}

// Open verifies the store and rebuilds availability by scanning every record
func Open(ctx context.Context, store Store, totals Totals, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if totals.Rooms < 0 || totals.Labs < 0 {
		return nil, fmt.Errorf("invalid totals rooms=%d labs=%d", totals.Rooms, totals.Labs)
	}
	if err := store.VerifySchema(ctx); err != nil {
		return nil, fmt.Errorf("verify schema: %w", err)
	}

	l := &Ledger{
		store:     store,
		logger:    logger,
		totals:    totals,
		now:       func() time.Time { return time.Now().UTC() },
		byRequest: make(map[string]Record),
		bySeq:     make(map[int64]string),
	}
	if err := l.rebuild(ctx); err != nil {
		return nil, err
	}

	logger.Info("ledger loaded",
		zap.Int("records", len(l.byRequest)),
		zap.Int("rooms_available", l.roomsAvailable),
		zap.Int("labs_available", l.labsAvailable),
	)
	return l, nil
}

func (l *Ledger) rebuild(ctx context.Context) error {
	records, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	rooms, labs := 0, 0
	for _, rec := range records {
		rooms += rec.RoomsAllocated
		labs += rec.LabsAllocated
		l.byRequest[rec.RequestID] = rec
		l.bySeq[rec.SequenceID] = rec.RequestID
	}
	if rooms > l.totals.Rooms || labs > l.totals.Labs {
		return fmt.Errorf("%w: rooms %d/%d labs %d/%d",
			ErrCapacityExceeded, rooms, l.totals.Rooms, labs, l.totals.Labs)
	}

	l.roomsAvailable = l.totals.Rooms - rooms
	l.labsAvailable = l.totals.Labs - labs
	return nil
}

// Allocate grants up to the requested amounts. Replaying a request_id returns
// the original grant with StatusDuplicate and changes nothing.
func (l *Ledger) Allocate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.byRequest[req.RequestID]; ok {
		l.logger.Info("duplicate request",
			zap.String("request_id", req.RequestID),
			zap.String("requester", req.Requester),
		)
		return &Result{
			Status:         StatusDuplicate,
			RoomsGranted:   prev.RoomsAllocated,
			LabsGranted:    prev.LabsAllocated,
			RoomsRemaining: l.roomsAvailable,
			LabsRemaining:  l.labsAvailable,
			Record:         prev,
		}, nil
	}

	if req.Rooms > l.roomsAvailable || req.Labs > l.labsAvailable {
		l.logger.Warn("request exceeds availability",
			zap.String("requester", req.Requester),
			zap.Int("rooms_requested", req.Rooms),
			zap.Int("labs_requested", req.Labs),
			zap.Int("rooms_available", l.roomsAvailable),
			zap.Int("labs_available", l.labsAvailable),
		)
	}

	rooms := min(req.Rooms, l.roomsAvailable)
	labs := min(req.Labs, l.labsAvailable)

	rec, err := l.store.Append(ctx, Record{
		RequestID:      req.RequestID,
		Requester:      req.Requester,
		RoomsAllocated: rooms,
		LabsAllocated:  labs,
		CreatedAt:      l.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: append record: %v", ErrPersistence, err)
	}
	l.commit(rec)
	l.publish(ReservationMessage(rec))

	status := StatusSuccess
	if rooms < req.Rooms || labs < req.Labs {
		status = StatusPartial
	}

	l.logger.Info("allocated",
		zap.String("requester", req.Requester),
		zap.Int64("sequence_id", rec.SequenceID),
		zap.Int("rooms", rooms),
		zap.Int("labs", labs),
		zap.String("status", string(status)),
	)

	return &Result{
		Status:         status,
		RoomsGranted:   rooms,
		LabsGranted:    labs,
		RoomsRemaining: l.roomsAvailable,
		LabsRemaining:  l.labsAvailable,
		Record:         rec,
	}, nil
}

// Delete removes one record and returns what it freed
func (l *Ledger) Delete(ctx context.Context, seq int64) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rooms, labs, err := l.deleteLocked(ctx, seq)
	if err != nil {
		return 0, 0, err
	}
	l.publish(DeleteOneMessage(seq))
	return rooms, labs, nil
}

func (l *Ledger) deleteLocked(ctx context.Context, seq int64) (int, int, error) {
	requestID, ok := l.bySeq[seq]
	if !ok {
		return 0, 0, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	rec := l.byRequest[requestID]

	if err := l.store.Delete(ctx, seq); err != nil {
		return 0, 0, fmt.Errorf("%w: delete record %d: %v", ErrPersistence, seq, err)
	}

	delete(l.bySeq, seq)
	delete(l.byRequest, requestID)
	l.roomsAvailable += rec.RoomsAllocated
	l.labsAvailable += rec.LabsAllocated

	l.logger.Info("record deleted",
		zap.Int64("sequence_id", seq),
		zap.Int("rooms_freed", rec.RoomsAllocated),
		zap.Int("labs_freed", rec.LabsAllocated),
	)
	return rec.RoomsAllocated, rec.LabsAllocated, nil
}

// DeleteAll wipes every record and restores full availability
func (l *Ledger) DeleteAll(ctx context.Context) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rooms, labs, err := l.deleteAllLocked(ctx)
	if err != nil {
		return 0, 0, err
	}
	l.publish(DeleteAllMessage())
	return rooms, labs, nil
}

func (l *Ledger) deleteAllLocked(ctx context.Context) (int, int, error) {
	if err := l.store.DeleteAll(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: delete all records: %v", ErrPersistence, err)
	}

	rooms := l.totals.Rooms - l.roomsAvailable
	labs := l.totals.Labs - l.labsAvailable
	l.roomsAvailable = l.totals.Rooms
	l.labsAvailable = l.totals.Labs
	l.byRequest = make(map[string]Record)
	l.bySeq = make(map[int64]string)

	l.logger.Warn("all records deleted",
		zap.Int("rooms_freed", rooms),
		zap.Int("labs_freed", labs),
	)
	return rooms, labs, nil
}

// ApplyReplicated mirrors a primary mutation. It never reaches the Publisher.
func (l *Ledger) ApplyReplicated(ctx context.Context, msg SyncMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch msg.Kind {
	case SyncReservation:
		return l.applyReservationLocked(ctx, msg.Record)

	case SyncDeleteOne:
		if msg.SequenceID <= 0 {
			return fmt.Errorf("%w: delete_one requires sequence_id", ErrMalformedRequest)
		}
		_, _, err := l.deleteLocked(ctx, msg.SequenceID)
		if errors.Is(err, ErrNotFound) {
			l.logger.Debug("replicated delete for unknown record", zap.Int64("sequence_id", msg.SequenceID))
			return nil
		}
		return err

	case SyncDeleteAll:
		_, _, err := l.deleteAllLocked(ctx)
		return err

	default:
		return fmt.Errorf("%w: unknown sync kind %q", ErrMalformedRequest, msg.Kind)
	}
}

func (l *Ledger) applyReservationLocked(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: reservation requires record", ErrMalformedRequest)
	}
	if rec.RequestID == "" || rec.SequenceID <= 0 || rec.RoomsAllocated < 0 || rec.LabsAllocated < 0 {
		return fmt.Errorf("%w: invalid replicated record", ErrMalformedRequest)
	}

	if _, ok := l.byRequest[rec.RequestID]; ok {
		l.logger.Info("duplicate replicated reservation ignored", zap.String("request_id", rec.RequestID))
		return nil
	}
	if rec.RoomsAllocated > l.roomsAvailable || rec.LabsAllocated > l.labsAvailable {
		return fmt.Errorf("%w: sequence %d wants rooms=%d labs=%d, available rooms=%d labs=%d",
			ErrPoolOverdrawn, rec.SequenceID, rec.RoomsAllocated, rec.LabsAllocated,
			l.roomsAvailable, l.labsAvailable)
	}

	stored, err := l.store.Append(ctx, *rec)
	if err != nil {
		return fmt.Errorf("%w: append replicated record: %v", ErrPersistence, err)
	}
	l.commit(stored)

	l.logger.Info("replicated reservation applied",
		zap.Int64("sequence_id", stored.SequenceID),
		zap.String("requester", stored.Requester),
	)
	return nil
}

// SetPublisher installs fn as the sink for local mutations; nil disables it
func (l *Ledger) SetPublisher(fn Publisher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = fn
}

func (l *Ledger) publish(msg SyncMessage) {
	if l.notify != nil {
		l.notify(msg)
	}
}

// commit updates counters and indexes after a successful write
func (l *Ledger) commit(rec Record) {
	l.roomsAvailable -= rec.RoomsAllocated
	l.labsAvailable -= rec.LabsAllocated
	l.byRequest[rec.RequestID] = rec
	l.bySeq[rec.SequenceID] = rec.RequestID
}

// Pool returns a consistent snapshot of the counters
func (l *Ledger) Pool() Pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Pool{
		RoomsTotal:     l.totals.Rooms,
		LabsTotal:      l.totals.Labs,
		RoomsAvailable: l.roomsAvailable,
		LabsAvailable:  l.labsAvailable,
	}
}

// Records lists every stored record
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Record fetches one record by sequence id
func (l *Ledger) Record(ctx context.Context, seq int64) (Record, error) {
	l.mu.Lock()
	_, ok := l.bySeq[seq]
	l.mu.Unlock()
	if !ok {
		return Record{}, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	return l.store.Get(ctx, seq)
}
