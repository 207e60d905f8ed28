package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RequestStatus is the lifecycle status of a service request
type RequestStatus string

const (
	StatusRequested      RequestStatus = "requested"
	StatusPendingQuote   RequestStatus = "pending_quote"
	StatusQuoted         RequestStatus = "quoted"
	StatusAccepted       RequestStatus = "accepted"
	StatusInProgress     RequestStatus = "in_progress"
	StatusPendingOTP     RequestStatus = "pending_otp"
	StatusPendingPayment RequestStatus = "pending_payment"
	StatusCompleted      RequestStatus = "completed"
	StatusRejected       RequestStatus = "rejected"
	StatusCancelled      RequestStatus = "cancelled"
)

// AllStatuses lists every lifecycle status in graph order
var AllStatuses = []RequestStatus{
	StatusRequested,
	StatusPendingQuote,
	StatusQuoted,
	StatusAccepted,
	StatusInProgress,
	StatusPendingOTP,
	StatusPendingPayment,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

// transitions is the complete status graph. Anything not listed is illegal.
var transitions = map[RequestStatus][]RequestStatus{
	StatusRequested:      {StatusPendingQuote, StatusCancelled},
	StatusPendingQuote:   {StatusQuoted, StatusCancelled},
	StatusQuoted:         {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:       {StatusInProgress, StatusPendingOTP, StatusCancelled},
	StatusInProgress:     {StatusPendingOTP},
	StatusPendingOTP:     {StatusPendingPayment},
	StatusPendingPayment: {StatusCompleted},
	StatusCompleted:      nil,
	StatusRejected:       nil,
	StatusCancelled:      nil,
}

// ErrInvalidTransition is returned for moves outside the status graph
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected transition
type TransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move service request from %s to %s", e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsValid checks that s is a known status
func (s RequestStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions exist from s
func (s RequestStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// HasQuote reports whether a binding estimated price must exist in s
func (s RequestStatus) HasQuote() bool {
	switch s {
	case StatusQuoted, StatusAccepted, StatusInProgress, StatusPendingOTP, StatusPendingPayment, StatusCompleted:
		return true
	}
	return false
}

// HasRepairer reports whether a repairer must be assigned in s
func (s RequestStatus) HasRepairer() bool {
	switch s {
	case StatusRequested, StatusCancelled:
		return false
	}
	return s.IsValid()
}

// NextStatuses returns the permitted next states of s
func (s RequestStatus) NextStatuses() []RequestStatus {
	next := transitions[s]
	out := make([]RequestStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from → to is an edge of the status graph
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from → to and returns a *TransitionError when illegal
func Transition(from, to RequestStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ValidPrice reports whether p is usable as a binding quote
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// JobState is a typed view of a request carrying only the fields valid in its status
type JobState interface {
	Status() RequestStatus
}

type (
	// Requested has no repairer yet
	Requested struct{}
	// PendingQuote has an assigned repairer preparing a quote
	PendingQuote struct {
		RepairerID uint
		AssignedAt time.Time
	}
	// Quoted carries the binding quote awaiting the customer's decision
	Quoted struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// Accepted is a quote the customer agreed to
	Accepted struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// InProgress is work started on site
	InProgress struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// PendingOTP waits for the customer's completion code
	PendingOTP struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// PendingPayment waits for the gateway to confirm the standard payment
	PendingPayment struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// Completed is paid work
	Completed struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// Rejected is a quote the customer turned down
	Rejected struct {
		RepairerID     uint
		EstimatedPrice float64
	}
	// Cancelled ends the request without work
	Cancelled struct {
		By     Role
		Reason string
	}
)

func (Requested) Status() RequestStatus      { return StatusRequested }
func (PendingQuote) Status() RequestStatus   { return StatusPendingQuote }
func (Quoted) Status() RequestStatus         { return StatusQuoted }
func (Accepted) Status() RequestStatus       { return StatusAccepted }
func (InProgress) Status() RequestStatus     { return StatusInProgress }
func (PendingOTP) Status() RequestStatus     { return StatusPendingOTP }
func (PendingPayment) Status() RequestStatus { return StatusPendingPayment }
func (Completed) Status() RequestStatus      { return StatusCompleted }
func (Rejected) Status() RequestStatus       { return StatusRejected }
func (Cancelled) Status() RequestStatus      { return StatusCancelled }

// ErrInconsistentState is returned when a stored request breaks its status invariants
var ErrInconsistentState = errors.New("service request fields do not match its status")

// State projects r into its typed state, checking the invariants of r.Status
func (r *ServiceRequest) State() (JobState, error) {
	if !r.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInconsistentState, r.Status)
	}

	var repairerID uint
	if r.Status.HasRepairer() {
		if r.RepairerID == nil {
			return nil, fmt.Errorf("%w: %s without repairer", ErrInconsistentState, r.Status)
		}
		repairerID = *r.RepairerID
	}

	var price float64
	if r.Status.HasQuote() {
		if r.EstimatedPrice == nil || !ValidPrice(*r.EstimatedPrice) {
			return nil, fmt.Errorf("%w: %s without positive estimated price", ErrInconsistentState, r.Status)
		}
		price = *r.EstimatedPrice
	}

	switch r.Status {
	case StatusRequested:
		return Requested{}, nil
	case StatusPendingQuote:
		var at time.Time
		if r.AssignedAt != nil {
			at = *r.AssignedAt
		}
		return PendingQuote{RepairerID: repairerID, AssignedAt: at}, nil
	case StatusQuoted:
		return Quoted{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusAccepted:
		return Accepted{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusInProgress:
		return InProgress{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusPendingOTP:
		return PendingOTP{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusPendingPayment:
		return PendingPayment{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusCompleted:
		return Completed{RepairerID: repairerID, EstimatedPrice: price}, nil
	case StatusRejected:
		var p float64
		if r.EstimatedPrice != nil {
			p = *r.EstimatedPrice
		}
		return Rejected{RepairerID: repairerID, EstimatedPrice: p}, nil
	default:
		return Cancelled{By: r.CancelledBy, Reason: r.CancelReason}, nil
	}
}
