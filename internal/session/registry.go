// Package session keeps the in-memory chat controllers for every open
// browser tab and evicts the ones nobody has touched in a while.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/hfchat/internal/chat"
	"github.com/ashureev/hfchat/internal/inference"
)

type entry struct {
	controller *chat.Controller
	viewers    int
}

// Registry maps device and tab session IDs to chat controllers.
type Registry struct {
	ctx       context.Context
	completer inference.Completer
	logger    *slog.Logger
	opts      []chat.Option

	mu     sync.RWMutex
	active map[string]map[string]*entry // deviceID -> sessionID -> entry
}

// NewRegistry creates a registry whose controllers send requests through
// completer. Outstanding requests run under ctx.
func NewRegistry(ctx context.Context, completer inference.Completer, logger *slog.Logger, opts ...chat.Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:       ctx,
		completer: completer,
		logger:    logger,
		opts:      opts,
		active:    make(map[string]map[string]*entry),
	}
}

// Get returns the controller for a device/session, or nil.
func (r *Registry) Get(deviceID, sessionID string) *chat.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.lookupLocked(deviceID, sessionID); e != nil {
		return e.controller
	}
	return nil
}

// GetOrCreate returns the controller for a device/session, creating a fresh
// one in the AwaitingCredential phase on first use. The controller is marked
// as used under the registry lock, so a concurrent sweep cannot evict it
// before the caller acts on it.
func (r *Registry) GetOrCreate(deviceID, sessionID string) *chat.Controller {
	r.mu.RLock()
	if e := r.lookupLocked(deviceID, sessionID); e != nil {
		e.controller.Touch()
		r.mu.RUnlock()
		return e.controller
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.getOrCreateLocked(deviceID, sessionID)
	e.controller.Touch()
	return e.controller
}

func (r *Registry) lookupLocked(deviceID, sessionID string) *entry {
	if sessions, ok := r.active[deviceID]; ok {
		return sessions[sessionID]
	}
	return nil
}

func (r *Registry) getOrCreateLocked(deviceID, sessionID string) *entry {
	if _, exists := r.active[deviceID]; !exists {
		r.active[deviceID] = make(map[string]*entry)
	}
	if e, exists := r.active[deviceID][sessionID]; exists {
		return e
	}

	logger := r.logger.With("device_id", deviceID, "session_id", sessionID)
	opts := append([]chat.Option{
		chat.WithContext(r.ctx),
		chat.WithLogger(logger),
	}, r.opts...)

	e := &entry{controller: chat.NewController(r.completer, opts...)}
	r.active[deviceID][sessionID] = e
	logger.Info("Chat session created")
	return e
}

// Attach returns the controller for a device/session and marks it as having
// a live viewer. Attached controllers are never swept. Call detach when the
// viewer goes away.
func (r *Registry) Attach(deviceID, sessionID string) (c *chat.Controller, detach func()) {
	r.mu.Lock()
	e := r.getOrCreateLocked(deviceID, sessionID)
	e.controller.Touch()
	e.viewers++
	r.mu.Unlock()

	var once sync.Once
	return e.controller, func() {
		once.Do(func() {
			r.mu.Lock()
			e.viewers--
			r.mu.Unlock()
		})
	}
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}

// Sweep removes controllers idle for longer than ttl. Controllers with a
// request in flight or a live viewer are kept. It returns the number removed.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for deviceID, sessions := range r.active {
		for sessionID, e := range sessions {
			if e.viewers > 0 || e.controller.InFlight() {
				continue
			}
			if now.Sub(e.controller.LastActivity()) < ttl {
				continue
			}
			delete(sessions, sessionID)
			removed++
			r.logger.Info("Idle chat session evicted", "device_id", deviceID, "session_id", sessionID)
		}
		if len(sessions) == 0 {
			delete(r.active, deviceID)
		}
	}
	return removed
}

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				if removed := r.Sweep(now, ttl); removed > 0 {
					r.logger.Info("Session sweep completed", "evicted", removed, "remaining", r.Len())
				}
			case <-ctx.Done():
				r.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Wait blocks until every controller's outstanding request has settled.
// Sweep never evicts a controller with a request in flight, so every
// outstanding request belongs to a controller still in the registry.
func (r *Registry) Wait() {
	r.mu.RLock()
	controllers := make([]*chat.Controller, 0)
	for _, sessions := range r.active {
		for _, e := range sessions {
			controllers = append(controllers, e.controller)
		}
	}
	r.mu.RUnlock()

	for _, c := range controllers {
		c.Wait()
	}
}
