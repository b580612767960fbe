package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

// Logger is the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the cached, validated view of the fans table. It is what
// the bridge loads fans from and where learned identities are written.
//
// All methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	logger Logger

	mu    sync.RWMutex
	cache map[string]Fan
}

// NewRegistry wraps repo. Call RefreshCache before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		cache:  make(map[string]Fan),
	}
}

// SetLogger sets the registry logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every fan from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	fans, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading fans: %w", err)
	}

	cache := make(map[string]Fan, len(fans))
	for _, f := range fans {
		cache[f.ID] = f
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()

	r.logger.Info("fan cache refreshed", "count", len(fans))
	return nil
}

// Get returns a fan by ID.
func (r *Registry) Get(ctx context.Context, id string) (Fan, error) {
	r.mu.RLock()
	fan, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return fan, nil
	}

	stored, err := r.repo.Get(ctx, id)
	if err != nil {
		return Fan{}, err
	}

	r.mu.Lock()
	r.cache[id] = *stored
	r.mu.Unlock()
	return *stored, nil
}

// List returns every registered fan sorted by name.
func (r *Registry) List() []Fan {
	r.mu.RLock()
	fans := make([]Fan, 0, len(r.cache))
	for _, f := range r.cache {
		fans = append(fans, f)
	}
	r.mu.RUnlock()

	sort.Slice(fans, func(i, j int) bool {
		return strings.ToLower(fans[i].Name) < strings.ToLower(fans[j].Name)
	})
	return fans
}

// ListFans returns the connection configuration of every enabled fan.
func (r *Registry) ListFans(context.Context) ([]senseme.DeviceConfig, error) {
	var out []senseme.DeviceConfig
	for _, f := range r.List() {
		if f.Enabled {
			out = append(out, f.DeviceConfig())
		}
	}
	return out, nil
}

// Create validates and stores a new fan, deriving its ID from the name
// when none is given.
func (r *Registry) Create(ctx context.Context, fan *Fan) error {
	fan.Name = strings.TrimSpace(fan.Name)
	fan.TemperatureUnit = strings.ToUpper(fan.TemperatureUnit)
	if fan.ID == "" {
		fan.ID = GenerateID(fan.Name)
	}
	if err := ValidateFan(fan); err != nil {
		return err
	}
	if err := r.checkNameFree(fan.ID, fan.Name); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, fan); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[fan.ID] = *fan
	r.mu.Unlock()

	r.logger.Info("fan registered", "fan_id", fan.ID, "name", fan.Name, "ip", fan.IP)
	return nil
}

// Update stores edited fields for an existing fan. The learned identity
// is carried over from the stored record unless the name changed, in
// which case it is cleared so the fan is addressed by its new name until
// it announces itself again.
func (r *Registry) Update(ctx context.Context, fan *Fan) error {
	fan.Name = strings.TrimSpace(fan.Name)
	fan.TemperatureUnit = strings.ToUpper(fan.TemperatureUnit)
	if err := ValidateFan(fan); err != nil {
		return err
	}

	existing, err := r.Get(ctx, fan.ID)
	if err != nil {
		return err
	}
	if err := r.checkNameFree(fan.ID, fan.Name); err != nil {
		return err
	}
	if strings.EqualFold(existing.Name, fan.Name) {
		fan.LearnedID = existing.LearnedID
	} else {
		fan.LearnedID = ""
	}
	fan.CreatedAt = existing.CreatedAt

	if err := r.repo.Update(ctx, fan); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[fan.ID] = *fan
	r.mu.Unlock()

	r.logger.Info("fan updated", "fan_id", fan.ID)
	return nil
}

// Delete removes a fan.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	r.logger.Info("fan deleted", "fan_id", id)
	return nil
}

// UpdateIdentity persists an identity the fan reported for itself.
func (r *Registry) UpdateIdentity(ctx context.Context, id, identity string) error {
	if err := r.repo.UpdateIdentity(ctx, id, identity); err != nil {
		return fmt.Errorf("persisting identity for %s: %w", id, err)
	}

	r.mu.Lock()
	if f, ok := r.cache[id]; ok {
		f.LearnedID = identity
		r.cache[id] = f
	}
	r.mu.Unlock()

	r.logger.Info("fan identity learned", "fan_id", id, "identity", identity)
	return nil
}

// Seed registers fans from the config file that are not in the database
// yet. Existing rows are left alone so API edits and learned identities
// survive a restart. It returns how many fans were added.
func (r *Registry) Seed(ctx context.Context, fans []config.FanConfig) (int, error) {
	added := 0
	var errs []error
	for _, fc := range fans {
		fan := Fan{
			ID:                 fc.ID,
			Name:               fc.Name,
			IP:                 fc.IP,
			Port:               senseme.DefaultPort,
			IdleTimeoutMinutes: fc.IdleTimeout,
			TemperatureUnit:    fc.TemperatureUnit,
			Enabled:            true,
		}
		if fan.ID == "" {
			fan.ID = GenerateID(fan.Name)
		}
		if _, err := r.Get(ctx, fan.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrFanNotFound) {
			errs = append(errs, err)
			continue
		}

		if err := r.Create(ctx, &fan); err != nil {
			errs = append(errs, fmt.Errorf("seeding %s: %w", fan.ID, err))
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// Count returns the number of registered fans.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) checkNameFree(id, name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.cache {
		if f.ID != id && strings.EqualFold(f.Name, name) {
			return fmt.Errorf("%w: name %q is used by %s", ErrFanExists, name, f.ID)
		}
	}
	return nil
}
