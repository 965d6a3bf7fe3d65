package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/faults"
	"github.com/vietddude/sentinel/internal/metrics"
)

// Config tunes a checkpoint store.
type Config struct {
	// MaxCheckpoints caps the total registered checkpoints before pruning.
	MaxCheckpoints int `yaml:"max_checkpoints"`
	// ProtectedReserve is how many manual/emergency checkpoints are shielded
	// from eviction.
	ProtectedReserve int `yaml:"protected_reserve"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{MaxCheckpoints: 50, ProtectedReserve: 10}
}

// Store registers integrity-verified snapshots over a payload backend. All
// operations are safe for concurrent callers; index and payload writes are
// serialized internally.
type Store struct {
	backend Backend
	cfg     Config
	log     *slog.Logger

	mu    sync.Mutex
	index map[string]domain.Checkpoint

	now func() time.Time
}

// NewStore opens a store over backend, rebuilding the in-memory registry
// from the persisted index. Index entries whose payload is missing are
// skipped with a warning, not a failure.
func NewStore(ctx context.Context, backend Backend, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxCheckpoints <= 0 {
		cfg.MaxCheckpoints = def.MaxCheckpoints
	}
	if cfg.ProtectedReserve <= 0 {
		cfg.ProtectedReserve = def.ProtectedReserve
	}

	s := &Store{
		backend: backend,
		cfg:     cfg,
		log:     log,
		index:   make(map[string]domain.Checkpoint),
		now:     time.Now,
	}

	data, found, err := backend.ReadIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint index: %w", err)
	}
	if found {
		var entries []domain.Checkpoint
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint index: %w", err)
		}
		for _, cp := range entries {
			if _, ok, err := backend.ReadPayload(ctx, cp.Location); err != nil || !ok {
				log.Warn("skipping checkpoint with missing payload",
					"checkpoint_id", cp.ID,
					"location", cp.Location,
					"error", err)
				continue
			}
			s.index[cp.ID] = cp
		}
	}

	return s, nil
}

// Create serializes state, hashes it, persists payload and metadata and
// registers the checkpoint, pruning old ones past the cap. The new
// checkpoint id is returned.
func (s *Store) Create(ctx context.Context, state any, typ domain.CheckpointType, description string) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		metrics.CheckpointOps.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}

	sum := sha256.Sum256(payload)
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	location, err := s.backend.WritePayload(ctx, id, payload)
	if err != nil {
		metrics.CheckpointOps.WithLabelValues("create", "error").Inc()
		return "", faults.NewTypedError(faults.KindStorage, "checkpoint.create", err)
	}

	s.index[id] = domain.Checkpoint{
		ID:          id,
		Type:        typ,
		CreatedAt:   s.now(),
		Description: description,
		Hash:        hex.EncodeToString(sum[:]),
		Location:    location,
		Size:        int64(len(payload)),
	}

	s.pruneLocked(ctx)

	if err := s.persistIndexLocked(ctx); err != nil {
		metrics.CheckpointOps.WithLabelValues("create", "error").Inc()
		return "", err
	}

	metrics.CheckpointOps.WithLabelValues("create", "ok").Inc()
	s.log.Info("checkpoint created",
		"checkpoint_id", id,
		"type", typ,
		"size", len(payload))
	return id, nil
}

// Restore reads the checkpoint payload, re-verifies its hash and
// deserializes into out. A hash mismatch fails closed with an
// archive-integrity error; no partial state is ever returned.
func (s *Store) Restore(ctx context.Context, id string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.index[id]
	if !ok {
		metrics.CheckpointOps.WithLabelValues("restore", "error").Inc()
		return faults.NewTypedError(faults.KindStorage, "checkpoint.restore",
			fmt.Errorf("checkpoint %s not found", id))
	}

	payload, found, err := s.backend.ReadPayload(ctx, cp.Location)
	if err != nil {
		metrics.CheckpointOps.WithLabelValues("restore", "error").Inc()
		return faults.NewTypedError(faults.KindStorage, "checkpoint.restore", err)
	}
	if !found {
		metrics.CheckpointOps.WithLabelValues("restore", "error").Inc()
		return faults.NewTypedError(faults.KindStorage, "checkpoint.restore",
			fmt.Errorf("payload for checkpoint %s is missing", id))
	}

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != cp.Hash {
		metrics.CheckpointOps.WithLabelValues("restore", "integrity_error").Inc()
		return faults.NewTypedError(faults.KindArchiveIntegrity, "checkpoint.restore",
			fmt.Errorf("checkpoint %s payload hash mismatch", id))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		metrics.CheckpointOps.WithLabelValues("restore", "error").Inc()
		return faults.NewTypedError(faults.KindStorage, "checkpoint.restore",
			fmt.Errorf("failed to deserialize checkpoint %s: %w", id, err))
	}

	metrics.CheckpointOps.WithLabelValues("restore", "ok").Inc()
	return nil
}

// Get returns the metadata for one checkpoint.
func (s *Store) Get(id string) (domain.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.index[id]
	return cp, ok
}

// List returns registered checkpoints, most recent first, optionally
// filtered by type ("" means all).
func (s *Store) List(typ domain.CheckpointType) []domain.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Checkpoint, 0, len(s.index))
	for _, cp := range s.index {
		if typ != "" && cp.Type != typ {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a checkpoint and its payload. It reports whether the
// checkpoint existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.index[id]
	if !ok {
		return false, nil
	}
	if err := s.backend.DeletePayload(ctx, cp.Location); err != nil {
		metrics.CheckpointOps.WithLabelValues("delete", "error").Inc()
		return false, faults.NewTypedError(faults.KindStorage, "checkpoint.delete", err)
	}
	delete(s.index, id)

	if err := s.persistIndexLocked(ctx); err != nil {
		return true, err
	}
	metrics.CheckpointOps.WithLabelValues("delete", "ok").Inc()
	return true, nil
}

// pruneLocked evicts the oldest non-protected checkpoints while over the
// cap. Manual and emergency checkpoints are only evicted, oldest first, when
// more than ProtectedReserve of them exist. Caller holds s.mu.
func (s *Store) pruneLocked(ctx context.Context) {
	for len(s.index) > s.cfg.MaxCheckpoints {
		victim, ok := s.evictionCandidateLocked()
		if !ok {
			return
		}
		if err := s.backend.DeletePayload(ctx, victim.Location); err != nil {
			s.log.Warn("failed to delete pruned checkpoint payload",
				"checkpoint_id", victim.ID,
				"error", err)
		}
		delete(s.index, victim.ID)
		metrics.CheckpointOps.WithLabelValues("prune", "ok").Inc()
		s.log.Info("checkpoint pruned",
			"checkpoint_id", victim.ID,
			"type", victim.Type,
			"created_at", victim.CreatedAt)
	}
}

func (s *Store) evictionCandidateLocked() (domain.Checkpoint, bool) {
	all := make([]domain.Checkpoint, 0, len(s.index))
	protected := 0
	for _, cp := range s.index {
		all = append(all, cp)
		if cp.Type.Protected() {
			protected++
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	for _, cp := range all {
		if !cp.Type.Protected() {
			return cp, true
		}
	}
	if protected > s.cfg.ProtectedReserve {
		return all[0], true
	}
	return domain.Checkpoint{}, false
}

func (s *Store) persistIndexLocked(ctx context.Context) error {
	entries := make([]domain.Checkpoint, 0, len(s.index))
	for _, cp := range s.index {
		entries = append(entries, cp)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint index: %w", err)
	}
	if err := s.backend.WriteIndex(ctx, data); err != nil {
		return faults.NewTypedError(faults.KindStorage, "checkpoint.index", err)
	}
	return nil
}
