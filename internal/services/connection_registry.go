package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sqlgateway/internal/dialect"
	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
	"sqlgateway/internal/utils"
)

// TargetStore is the durable catalog of registered targets.
type TargetStore interface {
	Create(ctx context.Context, target *models.DatabaseTarget) error
	GetByID(ctx context.Context, id string) (*models.DatabaseTarget, error)
	ListByOwner(ctx context.Context, kind models.OwnerKind, ref string) ([]models.DatabaseTarget, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// Delete removes the record and leaves a durable tombstone for id.
	Delete(ctx context.Context, id string) (bool, error)
	WasDeleted(ctx context.Context, id string) (bool, error)
}

// Opener opens and pings a live connection pool for a credential URI.
type Opener interface {
	Open(ctx context.Context, uri string, d dialect.Dialect) (*sql.DB, error)
}

type Prober interface {
	Probe(ctx context.Context, db *sql.DB, d dialect.Dialect) (string, string, error)
}

// Handle is a live connection to a target, owned by the registry cache.
// Callers must not close DB.
type Handle struct {
	DB       *sql.DB
	TargetID string
	Dialect  dialect.Dialect
	OpenedAt time.Time

	uri string
}

type RegistryConfig struct {
	ProbeTimeout time.Duration
	PingTimeout  time.Duration
}

type RegisterRequest struct {
	DisplayName   string
	CredentialURI string
	RequestedBy   string
	Owner         models.Owner
}

// ConnectionRegistry owns target metadata and at most one live handle per
// target id.
type ConnectionRegistry struct {
	store  TargetStore
	opener Opener
	prober Prober
	cfg    RegistryConfig
	log    *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	// epochs[id] changes on every eviction. An open that started under an
	// older epoch is closed instead of cached.
	epochs map[string]uint64
	group  singleflight.Group
}

func NewConnectionRegistry(store TargetStore, opener Opener, prober Prober, cfg RegistryConfig, log *logger.Logger) *ConnectionRegistry {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 60 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 3 * time.Second
	}

	return &ConnectionRegistry{
		store:   store,
		opener:  opener,
		prober:  prober,
		cfg:     cfg,
		log:     log,
		handles: make(map[string]*Handle),
		epochs:  make(map[string]uint64),
	}
}

// Register proves the credential is reachable, probes the schema and persists
// the target. Nothing is written when the credential cannot be reached.
func (r *ConnectionRegistry) Register(ctx context.Context, req RegisterRequest) (*models.DatabaseTarget, error) {
	if strings.TrimSpace(req.DisplayName) == "" {
		return nil, newError(ErrInvalidTarget, "display name is required")
	}
	if strings.TrimSpace(req.CredentialURI) == "" {
		return nil, newError(ErrInvalidTarget, "connection string is required")
	}
	if req.Owner == nil {
		return nil, newError(ErrInvalidTarget, "owner is required")
	}

	d := dialect.Detect(req.CredentialURI)
	log := r.log.WithFields(map[string]any{
		"dialect":    d.String(),
		"credential": utils.MaskCredential(req.CredentialURI),
	})

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	db, err := r.opener.Open(probeCtx, req.CredentialURI, d)
	if err != nil {
		log.Warn("registration probe failed", "error", utils.SanitizeError(err.Error(), req.CredentialURI))
		return nil, newError(ErrConnectionUnreachable, "%s", utils.SanitizeError(err.Error(), req.CredentialURI))
	}

	target := &models.DatabaseTarget{
		DisplayName:   strings.TrimSpace(req.DisplayName),
		CredentialURI: req.CredentialURI,
		Owner:         req.Owner,
		Dialect:       d,
		Active:        true,
		CreatedBy:     req.RequestedBy,
	}
	target.Prepare()

	schemaDigest, sampleDigest, err := r.prober.Probe(probeCtx, db, d)
	if err != nil {
		log.Warn("schema probe failed, registering without digests", "target_id", target.ID, "error", utils.SanitizeError(err.Error(), req.CredentialURI))
	}
	target.SchemaDigest = schemaDigest
	target.SampleDigest = sampleDigest

	if err := r.store.Create(ctx, target); err != nil {
		db.Close()
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.handles[target.ID]; exists {
		db.Close()
	} else {
		r.handles[target.ID] = &Handle{DB: db, TargetID: target.ID, Dialect: d, OpenedAt: time.Now(), uri: req.CredentialURI}
	}
	r.mu.Unlock()

	log.Info("target registered", "target_id", target.ID, "owner_kind", target.Owner.Kind())
	return target, nil
}

// Get returns the raw target, credential included. Only trusted callers may
// see its CredentialURI.
func (r *ConnectionRegistry) Get(ctx context.Context, id string) (*models.DatabaseTarget, error) {
	target, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, newError(ErrNotFound, "target %s not found", id)
	}
	return target, nil
}

// ListByOwner returns the owner's active targets, newest first.
func (r *ConnectionRegistry) ListByOwner(ctx context.Context, owner models.Owner) ([]models.DatabaseTarget, error) {
	if owner == nil {
		return nil, newError(ErrInvalidTarget, "owner is required")
	}
	return r.store.ListByOwner(ctx, owner.Kind(), owner.Ref())
}

// AcquireHandle returns the cached live handle for id, opening one if needed.
// Concurrent first use of the same id results in a single open.
func (r *ConnectionRegistry) AcquireHandle(ctx context.Context, id string) (*Handle, error) {
	// Read before the catalog so an eviction racing with this call is seen.
	epoch := r.epoch(id)

	target, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		deleted, err := r.store.WasDeleted(ctx, id)
		if err != nil {
			return nil, err
		}
		if deleted {
			return nil, newError(ErrStaleTarget, "target no longer available")
		}
		return nil, newError(ErrNotFound, "target %s not found", id)
	}
	if !target.Active {
		r.Evict(id)
		return nil, newError(ErrStaleTarget, "target no longer available")
	}

	if h := r.cached(id); h != nil {
		if r.alive(ctx, h) {
			r.touch(ctx, id)
			return h, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.log.WithTarget(id).Info("cached handle is dead, reopening")
		r.dropHandle(id, h)
	}

	ch := r.group.DoChan(id, func() (interface{}, error) {
		return r.open(ctx, target, epoch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r.touch(ctx, id)
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *ConnectionRegistry) open(ctx context.Context, target *models.DatabaseTarget, epoch uint64) (*Handle, error) {
	if h := r.cached(target.ID); h != nil {
		return h, nil
	}

	// Waiters share this open, so it must outlive the caller that started it.
	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ProbeTimeout)
	defer cancel()

	db, err := r.opener.Open(openCtx, target.CredentialURI, target.Dialect)
	if err != nil {
		reason := utils.SanitizeError(err.Error(), target.CredentialURI)
		r.log.WithTarget(target.ID).Warn("failed to open handle", "error", reason)
		return nil, newError(ErrHandleAcquisitionFailed, "%s", reason)
	}

	h := &Handle{DB: db, TargetID: target.ID, Dialect: target.Dialect, OpenedAt: time.Now(), uri: target.CredentialURI}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epochs[target.ID] != epoch {
		db.Close()
		return nil, newError(ErrStaleTarget, "target no longer available")
	}
	r.handles[target.ID] = h
	return h, nil
}

// Evict drops and closes the cached handle for id. It is idempotent and
// returns only once the handle is gone from the cache.
func (r *ConnectionRegistry) Evict(id string) {
	r.mu.Lock()
	h := r.handles[id]
	delete(r.handles, id)
	r.epochs[id]++
	r.mu.Unlock()

	if h != nil {
		if err := h.DB.Close(); err != nil {
			r.log.WithTarget(id).Warn("failed to close evicted handle", "error", err)
		}
	}
}

// Deactivate flips active off and evicts the live handle.
func (r *ConnectionRegistry) Deactivate(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	r.Evict(id)
	return nil
}

// Delete deactivates the target, evicts its live handle and removes the
// durable record. Later acquisitions report StaleTarget. If the removal
// fails the target stays deactivated.
func (r *ConnectionRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	if err := r.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	r.Evict(id)

	if _, err := r.store.Delete(ctx, id); err != nil {
		r.log.WithTarget(id).Warn("target deactivated but not removed", "error", err)
		return err
	}

	r.log.WithTarget(id).Info("target deleted")
	return nil
}

// Close closes every cached handle.
func (r *ConnectionRegistry) Close() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	for id := range handles {
		r.epochs[id]++
	}
	r.mu.Unlock()

	for id, h := range handles {
		if err := h.DB.Close(); err != nil {
			r.log.WithTarget(id).Warn("failed to close handle", "error", err)
		}
	}
}

func (r *ConnectionRegistry) cached(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

func (r *ConnectionRegistry) epoch(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs[id]
}

// dropHandle removes h only if it is still the cached handle for id.
func (r *ConnectionRegistry) dropHandle(id string, h *Handle) {
	r.mu.Lock()
	if r.handles[id] == h {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	h.DB.Close()
}

func (r *ConnectionRegistry) alive(ctx context.Context, h *Handle) bool {
	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.PingTimeout)
	defer cancel()
	return h.DB.PingContext(pingCtx) == nil
}

func (r *ConnectionRegistry) touch(ctx context.Context, id string) {
	if err := r.store.TouchLastUsed(ctx, id, time.Now()); err != nil {
		r.log.WithTarget(id).Warn("failed to update last used", "error", err)
	}
}
