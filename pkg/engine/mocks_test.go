package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// mockLeaseStore keeps leases in memory. The mutex stands in for the
// database's unique index.
type mockLeaseStore struct {
	mu         sync.Mutex
	clock      clock.Clock
	ttl        time.Duration
	leases     map[OperationKind]*Lease
	seq        int
	acquireErr error
	listErr    error
	acquires   int
	releases   []string
}

func newMockLeaseStore(clk clock.Clock) *mockLeaseStore {
	if clk == nil {
		clk = clock.New()
	}
	return &mockLeaseStore{
		clock:  clk,
		ttl:    5 * time.Minute,
		leases: make(map[OperationKind]*Lease),
	}
}

func (s *mockLeaseStore) Acquire(ctx context.Context, kind OperationKind) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquires++
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	if _, held := s.leases[kind]; held {
		return nil, nil
	}

	s.seq++
	now := s.clock.Now()
	lease := &Lease{
		ID:        fmt.Sprintf("lease-%d", s.seq),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.leases[kind] = lease
	return lease, nil
}

func (s *mockLeaseStore) Release(ctx context.Context, leaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releases = append(s.releases, leaseID)
	for kind, lease := range s.leases {
		if lease.ID == leaseID {
			delete(s.leases, kind)
		}
	}
	return nil
}

func (s *mockLeaseStore) SweepExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.clock.Now()
	for kind, lease := range s.leases {
		if lease.Expired(now) {
			delete(s.leases, kind)
			n++
		}
	}
	return n, nil
}

func (s *mockLeaseStore) ListActive(ctx context.Context) ([]*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}
	var active []*Lease
	now := s.clock.Now()
	for _, kind := range OperationKinds {
		if lease, ok := s.leases[kind]; ok && !lease.Expired(now) {
			active = append(active, lease)
		}
	}
	return active, nil
}

func (s *mockLeaseStore) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

// mockClient simulates the remote resource.
type mockClient struct {
	mu sync.Mutex

	state State

	// describeErrs are returned by successive DescribeState calls before
	// falling back to describeErr.
	describeErrs []error
	describeErr  error
	dispatchErr  error

	// onStart runs during Start without the mutex held.
	onStart func(ctx context.Context) error

	describes int
	starts    int
	stops     int
}

func newMockClient(state State) *mockClient {
	return &mockClient{state: state}
}

func (c *mockClient) DescribeState(ctx context.Context, resourceID string) (*ResourceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.describes++
	if len(c.describeErrs) > 0 {
		err := c.describeErrs[0]
		c.describeErrs = c.describeErrs[1:]
		return nil, err
	}
	if c.describeErr != nil {
		return nil, c.describeErr
	}
	return &ResourceState{State: c.state, ObservedAt: time.Now()}, nil
}

func (c *mockClient) Start(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	c.starts++
	hook := c.onStart
	c.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatchErr != nil {
		return c.dispatchErr
	}
	c.state = StatePending
	return nil
}

func (c *mockClient) Stop(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stops++
	if c.dispatchErr != nil {
		return c.dispatchErr
	}
	c.state = StateStopping
	return nil
}

func (c *mockClient) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *mockClient) counts() (describes, starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describes, c.starts, c.stops
}

type mockAudit struct {
	mu      sync.Mutex
	records []*AuditRecord
	err     error
}

func (a *mockAudit) RecordOperation(ctx context.Context, record *AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, record)
	return nil
}

func (a *mockAudit) last() *AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		return nil
	}
	return a.records[len(a.records)-1]
}

type mockHealth struct {
	health *AppHealth
	err    error
}

func (h *mockHealth) Check(ctx context.Context) (*AppHealth, error) {
	return h.health, h.err
}
