package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
)

// memStore is an in-memory TargetStore.
type memStore struct {
	mu         sync.Mutex
	targets    map[string]models.DatabaseTarget
	tombstones map[string]bool
	calls      atomic.Int64

	setActiveErr error
	deleteErr    error
}

func newMemStore() *memStore {
	return &memStore{
		targets:    make(map[string]models.DatabaseTarget),
		tombstones: make(map[string]bool),
	}
}

func (s *memStore) Create(_ context.Context, target *models.DatabaseTarget) error {
	s.calls.Add(1)
	target.Prepare()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.targets[target.ID]; exists {
		return errors.New("duplicate id")
	}
	s.targets[target.ID] = *target
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.DatabaseTarget, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return nil, nil
	}
	return &target, nil
}

func (s *memStore) ListByOwner(_ context.Context, kind models.OwnerKind, ref string) ([]models.DatabaseTarget, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DatabaseTarget
	for _, t := range s.targets {
		if t.Active && t.Owner != nil && t.Owner.Kind() == kind && t.Owner.Ref() == ref {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SetActive(_ context.Context, id string, active bool) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setActiveErr != nil {
		return s.setActiveErr
	}
	if t, ok := s.targets[id]; ok {
		t.Active = active
		s.targets[id] = t
	}
	return nil
}

func (s *memStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.targets[id]; ok {
		t.LastUsedAt = &at
		s.targets[id] = t
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	_, ok := s.targets[id]
	delete(s.targets, id)
	s.tombstones[id] = true
	return ok, nil
}

func (s *memStore) WasDeleted(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tombstones[id], nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// countingOpener wraps SQLOpener and counts open attempts.
type countingOpener struct {
	inner   *SQLOpener
	opens   atomic.Int64
	delay   time.Duration
	failFor atomic.Int64
}

func newCountingOpener() *countingOpener {
	return &countingOpener{inner: NewSQLOpener(HandleOptions{MaxOpenConns: 4})}
}

func (o *countingOpener) Open(ctx context.Context, uri string, d dialect.Dialect) (*sql.DB, error) {
	o.opens.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.failFor.Load() > 0 {
		o.failFor.Add(-1)
		return nil, errors.New("dial tcp: connection reset while using " + uri)
	}
	return o.inner.Open(ctx, uri, d)
}

// memOracle is a MembershipOracle backed by a set.
type memOracle struct {
	mu      sync.Mutex
	members map[string]bool
	owners  map[string]bool
	calls   atomic.Int64
}

func newMemOracle() *memOracle {
	return &memOracle{members: make(map[string]bool), owners: make(map[string]bool)}
}

func (o *memOracle) setOwner(callerID, tenantID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members[tenantID+"/"+callerID] = true
	o.owners[tenantID+"/"+callerID] = true
}

func (o *memOracle) IsOwner(_ context.Context, callerID, tenantID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owners[tenantID+"/"+callerID], nil
}

func (o *memOracle) set(callerID, tenantID string, member bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members[tenantID+"/"+callerID] = member
}

func (o *memOracle) IsMember(_ context.Context, callerID, tenantID string) (bool, error) {
	o.calls.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.members[tenantID+"/"+callerID], nil
}

// sqliteURI creates a database file with the given statements applied and
// returns a sqlite:// URI for it.
func sqliteURI(t *testing.T, statements ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "target.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	return "sqlite:///" + path
}

func testRegistry(store TargetStore, opener Opener) *ConnectionRegistry {
	log := logger.Discard()
	return NewConnectionRegistry(store, opener, NewSchemaProber(log), RegistryConfig{
		ProbeTimeout: 5 * time.Second,
		PingTimeout:  time.Second,
	}, log)
}

// seedTarget stores a target directly, bypassing Register so no handle is
// cached.
func seedTarget(t *testing.T, store *memStore, uri string, owner models.Owner) *models.DatabaseTarget {
	t.Helper()

	target := &models.DatabaseTarget{
		DisplayName:   "seeded",
		CredentialURI: uri,
		Owner:         owner,
		Dialect:       dialect.Detect(uri),
		Active:        true,
		CreatedBy:     owner.Ref(),
	}
	require.NoError(t, store.Create(context.Background(), target))
	return target
}
