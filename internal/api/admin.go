package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/FairForge/roomd/internal/ha"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RecordList is the reply of GET /admin/records
type RecordList struct {
	Records []ledger.Record `json:"records"`
	Count   int             `json:"count"`
	Pool    ledger.Pool     `json:"pool"`
}

// DeleteResult reports what a delete freed
type DeleteResult struct {
	SequenceID int64       `json:"sequence_id,omitempty"`
	RoomsFreed int         `json:"rooms_freed"`
	LabsFreed  int         `json:"labs_freed"`
	Pool       ledger.Pool `json:"pool"`
}

// Mode toggles between accepting and idle
type Mode struct {
	Accepting bool `json:"accepting"`
}

// ServerStatus is the reply of GET /admin/status
type ServerStatus struct {
	Role               string      `json:"role"`
	Accepting          bool        `json:"accepting"`
	UptimeSeconds      float64     `json:"uptime_seconds"`
	Pool               ledger.Pool `json:"pool"`
	ReplicationEnabled bool        `json:"replication_enabled"`
	Monitor            *ha.Status  `json:"monitor,omitempty"`
}

func (s *Server) adminRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requireOperator)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/records", s.listRecords)
		r.Delete("/records", s.deleteAllRecords)
		r.Get("/records/{id}", s.getRecord)
		r.Delete("/records/{id}", s.deleteRecord)
		r.Get("/pool", s.getPool)
		r.Put("/mode", s.setMode)
		r.Get("/status", s.getStatus)
	})

	return r
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Records(r.Context())
	if err != nil {
		s.logger.Error("list records", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}

	respondJSON(w, http.StatusOK, RecordList{
		Records: records,
		Count:   len(records),
		Pool:    s.ledger.Pool(),
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	seq, ok := sequenceParam(w, r)
	if !ok {
		return
	}

	rec, err := s.ledger.Record(r.Context(), seq)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if !s.role.IsPrimary() {
		respondError(w, http.StatusServiceUnavailable, MsgStandby)
		return
	}
	seq, ok := sequenceParam(w, r)
	if !ok {
		return
	}

	rooms, labs, err := s.ledger.Delete(r.Context(), seq)
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}

	s.logger.Info("record deleted by operator",
		zap.String("operator", operatorFrom(r.Context())),
		zap.Int64("sequence_id", seq),
	)
	respondJSON(w, http.StatusOK, DeleteResult{
		SequenceID: seq,
		RoomsFreed: rooms,
		LabsFreed:  labs,
		Pool:       s.ledger.Pool(),
	})
}

func (s *Server) deleteAllRecords(w http.ResponseWriter, r *http.Request) {
	if !s.role.IsPrimary() {
		respondError(w, http.StatusServiceUnavailable, MsgStandby)
		return
	}

	rooms, labs, err := s.ledger.DeleteAll(r.Context())
	if err != nil {
		s.respondLedgerError(w, err)
		return
	}

	s.logger.Warn("all records deleted by operator", zap.String("operator", operatorFrom(r.Context())))
	respondJSON(w, http.StatusOK, DeleteResult{
		RoomsFreed: rooms,
		LabsFreed:  labs,
		Pool:       s.ledger.Pool(),
	})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ledger.Pool())
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var mode Mode
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&mode); err != nil {
		respondError(w, http.StatusBadRequest, "invalid mode: "+err.Error())
		return
	}

	s.SetAccepting(mode.Accepting)
	s.logger.Info("mode changed",
		zap.String("operator", operatorFrom(r.Context())),
		zap.Bool("accepting", mode.Accepting),
	)
	respondJSON(w, http.StatusOK, mode)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := ServerStatus{
		Role:               s.role.Load().String(),
		Accepting:          s.accepting.Load(),
		UptimeSeconds:      time.Since(s.startTime).Seconds(),
		Pool:               s.ledger.Pool(),
		ReplicationEnabled: s.replicator.Enabled(),
	}
	if s.monitor != nil {
		st := s.monitor.Status()
		status.Monitor = &st
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("ledger operation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func sequenceParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	seq, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || seq <= 0 {
		respondError(w, http.StatusBadRequest, "record id must be a positive integer")
		return 0, false
	}
	return seq, true
}
