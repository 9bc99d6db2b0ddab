package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"github.com/google/uuid"
)

// Store is an in-memory request ledger. It is safe for concurrent use.
// Data is lost on restart; use the postgres or bigquery ledger for anything
// that must survive one.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request
	order    []string
	now      func() time.Time
}

// NewStore creates an empty ledger.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]*domain.Request),
		now:      time.Now,
	}
}

// Submit adds a request in pending state. A request ID is generated when
// none is set.
func (s *Store) Submit(ctx context.Context, req *domain.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := *req
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if _, exists := s.requests[r.RequestID]; exists {
		return "", fmt.Errorf("request %s already exists", r.RequestID)
	}
	r.Status = domain.StatusPending
	r.ErrorMessage = ""
	r.RawArtifactPath = ""
	r.NormalizedArtifactPath = ""
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	s.requests[r.RequestID] = &r
	s.order = append(s.order, r.RequestID)
	return r.RequestID, nil
}

// FetchNextPending implements ledger.Ledger. Requests are returned in
// submission order.
func (s *Store) FetchNextPending(ctx context.Context) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		r := s.requests[id]
		if r.Status == domain.StatusPending {
			// Return a copy to avoid external modifications
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

// UpdateStatus implements ledger.Ledger.
func (s *Store) UpdateStatus(ctx context.Context, requestID string, status domain.Status, update domain.StatusUpdate) error {
	if err := ledger.ValidateUpdate(status, update); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.requests[requestID]
	if !exists {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, requestID)
	}
	if err := ledger.ValidateTransition(requestID, r.Status, status); err != nil {
		return err
	}

	r.Status = status
	r.ErrorMessage = update.ErrorMessage
	r.RawArtifactPath = update.RawArtifactPath
	r.NormalizedArtifactPath = update.NormalizedArtifactPath
	return nil
}

// Get returns a copy of the request with the given ID.
func (s *Store) Get(ctx context.Context, requestID string) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.requests[requestID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, requestID)
	}
	c := *r
	return &c, nil
}

// List returns copies of all requests with the given status, or all
// requests when status is empty, in submission order.
func (s *Store) List(ctx context.Context, status domain.Status) []*domain.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Request
	for _, id := range s.order {
		r := s.requests[id]
		if status != "" && r.Status != status {
			continue
		}
		c := *r
		result = append(result, &c)
	}
	return result
}

var _ ledger.Ledger = (*Store)(nil)
