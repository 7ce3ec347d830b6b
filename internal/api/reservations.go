package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/FairForge/roomd/internal/ledger"
	"github.com/FairForge/roomd/internal/validation"
	"go.uber.org/zap"
)

// ReservationsPath accepts allocation requests
const ReservationsPath = "/v1/reservations"

// Reply messages
const (
	MsgStandby      = "server is standby"
	MsgIdle         = "server is idle"
	MsgInsufficient = "insufficient resources for full allocation"
	MsgRateLimited  = "rate limit exceeded"
)

// ReservationRequest is the allocation request on the wire
type ReservationRequest struct {
	RequestID      string `json:"request_id"`
	Requester      string `json:"requester"`
	RoomsRequested int    `json:"rooms_requested"`
	LabsRequested  int    `json:"labs_requested"`
}

// ReservationResponse is the allocation reply on the wire
type ReservationResponse struct {
	Status         ledger.Status `json:"status"`
	RoomsAllocated int           `json:"rooms_allocated"`
	LabsAllocated  int           `json:"labs_allocated"`
	RoomsRemaining int           `json:"rooms_remaining"`
	LabsRemaining  int           `json:"labs_remaining"`
	Message        string        `json:"message,omitempty"`
}

const reservationSchema = `{
	"type": "object",
	"required": ["request_id", "requester", "rooms_requested", "labs_requested"],
	"properties": {
		"request_id": {"type": "string", "minLength": 1, "maxLength": 128},
		"requester": {"type": "string", "minLength": 1, "maxLength": 256},
		"rooms_requested": {"type": "integer", "minimum": 1},
		"labs_requested": {"type": "integer", "minimum": 1}
	}
}`

var reservationRules = validation.Rules{
	ContentTypes: []string{"application/json"},
	MaxBodySize:  4096,
	Schema:       validation.MustCompileSchema(reservationSchema),
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	if !s.role.IsPrimary() {
		s.replyReservation(w, http.StatusServiceUnavailable, errorReply(MsgStandby))
		return
	}
	if !s.accepting.Load() {
		s.replyReservation(w, http.StatusServiceUnavailable, errorReply(MsgIdle))
		return
	}

	body, err := s.validator.ReadBody(r)
	if err != nil {
		s.replyReservation(w, http.StatusBadRequest, errorReply(err.Error()))
		return
	}

	var req ReservationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.replyReservation(w, http.StatusBadRequest, errorReply(fmt.Sprintf("%v: %v", ledger.ErrMalformedRequest, err)))
		return
	}

	if s.limiter != nil && !s.limiter.Allow(req.Requester) {
		s.metrics.IncrementRateLimitHit(req.Requester)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		s.replyReservation(w, http.StatusTooManyRequests, errorReply(MsgRateLimited))
		return
	}

	result, err := s.ledger.Allocate(r.Context(), ledger.Request{
		RequestID: req.RequestID,
		Requester: req.Requester,
		Rooms:     req.RoomsRequested,
		Labs:      req.LabsRequested,
	})
	switch {
	case errors.Is(err, ledger.ErrMalformedRequest):
		s.replyReservation(w, http.StatusBadRequest, errorReply(err.Error()))
		return
	case err != nil:
		s.logger.Error("allocation failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		s.replyReservation(w, http.StatusInternalServerError, errorReply("failed to persist reservation"))
		return
	}

	resp := ReservationResponse{
		Status:         result.Status,
		RoomsAllocated: result.RoomsGranted,
		LabsAllocated:  result.LabsGranted,
		RoomsRemaining: result.RoomsRemaining,
		LabsRemaining:  result.LabsRemaining,
	}
	if result.Status == ledger.StatusPartial {
		resp.Message = MsgInsufficient
	}
	s.replyReservation(w, http.StatusOK, resp)
}

func (s *Server) replyReservation(w http.ResponseWriter, code int, resp ReservationResponse) {
	s.metrics.ObserveAllocation(resp.Status)
	respondJSON(w, code, resp)
}

func errorReply(msg string) ReservationResponse {
	return ReservationResponse{Status: ledger.StatusError, Message: msg}
}
