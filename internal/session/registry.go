package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/brewtap/pillsync/internal/rapt"
)

// ErrNotFound indicates an operation on a session handle the registry does
// not know.
var ErrNotFound = errors.New("session not found")

// Registry supervises the set of tracked sessions and routes incoming
// advertisements to the matching one by device address. The handle for every
// operation is the session's brew name.
type Registry struct {
	logger *logrus.Logger
	status StatusFunc

	// sessions keeps insertion order for listing; byAddr is the lock-free
	// dispatch index keyed by lowercased MAC, hit on every advertisement.
	mu       sync.RWMutex
	sessions *orderedmap.OrderedMap[string, *Engine]
	byAddr   *hashmap.Map[string, *Engine]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger, status StatusFunc) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if status == nil {
		status = func(string) {}
	}
	return &Registry{
		logger:   logger,
		status:   status,
		sessions: orderedmap.New[string, *Engine](),
		byAddr:   hashmap.New[string, *Engine](),
	}
}

// Add registers a new session in the Created state and returns its handle.
func (r *Registry) Add(cfg Config, syncer Syncer) (string, error) {
	if cfg.BrewName == "" {
		return "", fmt.Errorf("session needs a brew name")
	}
	if cfg.MacAddress == "" {
		return "", fmt.Errorf("session %q needs a MAC address", cfg.BrewName)
	}

	addr := normalizeAddr(cfg.MacAddress)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions.Get(cfg.BrewName); exists {
		return "", fmt.Errorf("session %q already exists", cfg.BrewName)
	}
	if _, exists := r.byAddr.Get(addr); exists {
		return "", fmt.Errorf("device %s is already tracked by another session", cfg.MacAddress)
	}

	engine := NewEngine(cfg, syncer, r.logger, r.status)
	r.sessions.Set(cfg.BrewName, engine)
	r.byAddr.Set(addr, engine)

	r.logger.WithFields(logrus.Fields{"session": cfg.BrewName, "address": cfg.MacAddress}).Info("Session added")
	return cfg.BrewName, nil
}

// Start starts the session with the given handle.
func (r *Registry) Start(ctx context.Context, handle string) error {
	engine, err := r.get(handle)
	if err != nil {
		return err
	}
	return engine.Start(ctx)
}

// Stop stops the session with the given handle. An unknown handle is
// reported as ErrNotFound, it is not fatal to the registry.
func (r *Registry) Stop(handle string) error {
	engine, err := r.get(handle)
	if err != nil {
		return err
	}
	return engine.Stop()
}

// Remove deletes a stopped session from the registry.
func (r *Registry) Remove(handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, exists := r.sessions.Get(handle)
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, handle)
	}
	if engine.State() != StateStopped {
		return fmt.Errorf("session %q is %s, stop it before removing", handle, engine.State())
	}

	r.sessions.Delete(handle)
	r.byAddr.Del(normalizeAddr(engine.Config().MacAddress))
	r.logger.WithField("session", handle).Info("Session removed")
	return nil
}

// Get returns the engine for a handle.
func (r *Registry) Get(handle string) (*Engine, error) {
	return r.get(handle)
}

// List returns all sessions in the order they were added.
func (r *Registry) List() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engines := make([]*Engine, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		engines = append(engines, pair.Value)
	}
	return engines
}

// Dispatch routes one advertisement to the session tracking the source
// address. Advertisements without RAPT vendor data, the Pill's non-data
// identity beacon, and addresses no session tracks are all silently ignored;
// a busy radio is mostly unrelated devices.
func (r *Registry) Dispatch(deviceAddr string, manufacturerData map[uint16][]byte) {
	payload, ok := manufacturerData[rapt.VendorID]
	if !ok {
		return
	}
	if rapt.IsNonDataBroadcast(payload) {
		return
	}

	engine, ok := r.byAddr.Get(normalizeAddr(deviceAddr))
	if !ok {
		return
	}
	engine.OnAdvertisement(payload)
}

func (r *Registry) get(handle string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, exists := r.sessions.Get(handle)
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, handle)
	}
	return engine, nil
}

func normalizeAddr(addr string) string {
	return strings.ToLower(addr)
}
