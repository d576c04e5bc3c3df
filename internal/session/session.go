// Package session holds all in-flight payment and resource state for one
// caller context. Sessions are the isolation boundary: no operation may
// read or mutate another session's state.
package session

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/pixelmint/pixelmint/internal/idgen"
	"github.com/pixelmint/pixelmint/internal/pricing"
)

// DefaultID is used when the caller does not supply a session ID.
const DefaultID = "default"

var (
	ErrRequestNotFound   = errors.New("session: payment request not found")
	ErrNoActiveRequest   = errors.New("session: no active payment request")
	ErrAlreadyAuthorized = errors.New("session: payment already authorized")
	ErrResourceNotFound  = errors.New("session: resource not found")
)

// InsufficientFundsError reports a failed balance check at authorization.
type InsufficientFundsError struct {
	Needed    *big.Int // USDC smallest units
	Available *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("session: insufficient balance: need %s units, have %s units", e.Needed, e.Available)
}

// PaymentRequest tracks one cost estimate through its lifecycle. Cost
// fields are fixed at estimate time and never recomputed: the amount
// quoted is the amount charged.
type PaymentRequest struct {
	ID          string
	Description string
	Resolution  string
	Quality     string
	CostUSD     string   // decimal USD, frozen at estimate
	CostUnits   *big.Int // USDC smallest units, frozen at estimate
	Rate        float64  // exchange rate used at estimate
	Authorized  bool
	ResourceID  string // set at most once, only after authorized generation
	CreatedAt   time.Time
}

// Resource is a generated artifact owned by the session until delivered.
type Resource struct {
	ID        string
	Data      []byte
	MediaType string
	CreatedAt time.Time
}

// Session isolates all payment and resource state for one caller context.
type Session struct {
	ID string

	mu        sync.Mutex
	requests  map[string]*PaymentRequest
	active    string // ID of the in-flight request, "" if none
	resources map[string]*Resource
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		requests:  make(map[string]*PaymentRequest),
		resources: make(map[string]*Resource),
	}
}

// RecordEstimate registers a cost estimate as a payment request. If the
// session already has an active unauthorized request, that request is
// returned instead of creating a new one, so repeated estimate calls
// within one flow cannot double-bill. The second return reports whether
// an existing request was reused.
func (s *Session) RecordEstimate(est *pricing.Estimate, description string) (*PaymentRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		if existing, ok := s.requests[s.active]; ok && !existing.Authorized {
			return existing, true
		}
	}

	req := &PaymentRequest{
		ID:          idgen.Request(),
		Description: description,
		Resolution:  est.Resolution,
		Quality:     est.Quality,
		CostUSD:     est.CostUSD,
		CostUnits:   new(big.Int).Set(est.CostUnits),
		Rate:        est.Rate,
		CreatedAt:   time.Now(),
	}
	s.requests[req.ID] = req
	s.active = req.ID
	return req, false
}

// Request returns the payment request with the given ID, or
// ErrRequestNotFound. An empty ID resolves to the active request, failing
// with ErrNoActiveRequest when none is in flight.
func (s *Session) Request(id string) (*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLocked(id)
}

func (s *Session) requestLocked(id string) (*PaymentRequest, error) {
	if id == "" {
		if s.active == "" {
			return nil, ErrNoActiveRequest
		}
		id = s.active
	}
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req, nil
}

// MarkAuthorized flips a request to authorized. Returns
// ErrAlreadyAuthorized if it already is; callers treat that as idempotent
// success at the consent gate.
func (s *Session) MarkAuthorized(id string) (*PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requestLocked(id)
	if err != nil {
		return nil, err
	}
	if req.Authorized {
		return req, ErrAlreadyAuthorized
	}
	req.Authorized = true
	return req, nil
}

// AttachResource stores a generated resource, records it on the request,
// and clears the active pointer: the request has reached its terminal
// successful state and a new estimate may begin. A request accepts at
// most one resource.
func (s *Session) AttachResource(requestID string, res *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requestLocked(requestID)
	if err != nil {
		return err
	}
	if req.ResourceID != "" {
		return fmt.Errorf("session: resource already attached to request %s", req.ID)
	}
	req.ResourceID = res.ID
	s.resources[res.ID] = res
	if s.active == req.ID {
		s.active = ""
	}
	return nil
}

// ActiveRequestID returns the ID of the in-flight request, or "".
func (s *Session) ActiveRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Resource returns an undelivered resource by ID.
func (s *Session) Resource(id string) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	return res, ok
}

// DrainResources returns all undelivered resources and clears them from
// the session, so each resource is delivered at most once.
func (s *Session) DrainResources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.resources) == 0 {
		return nil
	}
	drained := make([]*Resource, 0, len(s.resources))
	for _, res := range s.resources {
		drained = append(drained, res)
	}
	s.resources = make(map[string]*Resource)
	return drained
}
