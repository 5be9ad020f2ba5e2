package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// Gate admits or rejects loaded profiles before they become active.
type Gate interface {
	Admit(ctx context.Context, p *Profile) error
}

// Registry is the set of active profiles, kept in run order. Profiles
// loaded from directories are replaced on Refresh; profiles added in
// memory survive it.
type Registry struct {
	mu       sync.RWMutex
	loader   *Loader
	dirs     []string
	gate     Gate
	loaded   []*Profile
	inMemory []*Profile
	sorted   []*Profile
}

// NewRegistry creates a registry over the given profile directories.
// Nothing is loaded until Refresh.
func NewRegistry(loader *Loader, dirs ...string) *Registry {
	return &Registry{loader: loader, dirs: append([]string(nil), dirs...)}
}

// SetGate installs an admission gate used by subsequent refreshes.
func (r *Registry) SetGate(g Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = g
}

// Dirs returns the watched profile directories.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// Refresh reloads every profile directory. Profiles that fail to load or
// are rejected by the gate are left out; their errors are joined into the
// returned error while the rest become active.
func (r *Registry) Refresh(ctx context.Context) error {
	logger := telemetry.FromContext(ctx).NewComponentLogger("profile-registry")

	r.mu.RLock()
	gate := r.gate
	r.mu.RUnlock()

	var loaded []*Profile
	var errs []error
	seen := make(map[string]string)
	for _, dir := range r.dirs {
		profiles, err := r.loader.LoadDir(ctx, dir)
		if err != nil {
			errs = append(errs, err)
		}
		for _, p := range profiles {
			if gate != nil {
				if err := gate.Admit(ctx, p); err != nil {
					logger.WithError(err).Warnf("profile %s rejected", p.Path)
					errs = append(errs, err)
					continue
				}
			}
			if prev, dup := seen[p.ID]; dup {
				errs = append(errs, engine.NewPermanentError(
					fmt.Sprintf("profile id %s is used by %s and %s", p.ID, prev, p.Path), nil).
					WithCode(engine.ErrCodeAlreadyExists))
				continue
			}
			seen[p.ID] = p.Path
			loaded = append(loaded, p)
		}
	}

	r.mu.Lock()
	r.loaded = loaded
	r.resort()
	count := len(r.sorted)
	r.mu.Unlock()

	logger.Infof("%d profiles active", count)
	return errors.Join(errs...)
}

// Add activates an in-memory profile.
func (r *Registry) Add(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inMemory = append(r.inMemory, p)
	r.resort()
}

// Profiles returns the active profiles in run order.
func (r *Registry) Profiles() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Profile(nil), r.sorted...)
}

// Get returns the active profile with the given ID or name.
func (r *Registry) Get(key string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.sorted {
		if p.ID == key || p.Name == key {
			return p, true
		}
	}
	return nil, false
}

// Save persists p to its file. In-memory profiles have nothing to save.
func (r *Registry) Save(p *Profile) error {
	if p.Path == "" {
		return nil
	}
	return r.loader.Save(p)
}

func (r *Registry) resort() {
	r.sorted = make([]*Profile, 0, len(r.loaded)+len(r.inMemory))
	r.sorted = append(r.sorted, r.loaded...)
	r.sorted = append(r.sorted, r.inMemory...)
	Sort(r.sorted)
}
