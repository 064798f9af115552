package coordinator

import (
	"sync"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/pkg/exception"
)

// Registry tracks one channel per worker role. A role whose channel is
// still up cannot be re-registered; after the channel goes down a fresh
// one is created on the next attach.
type Registry struct {
	mu       sync.Mutex
	channels map[bus.Role]*bus.Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[bus.Role]*bus.Channel)}
}

// Attach creates and brings up the channel for a role. Attaching a role
// whose channel is up is a registration conflict, refused rather than
// overridden.
func (r *Registry) Attach(role bus.Role, buffer int) (*bus.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.channels[role]; ok && existing.State() == bus.StateUp {
		return nil, errors.Wrapf(exception.ErrChannelConflict, "role %d (%s)", role, role)
	}
	ch := bus.NewChannel(role)
	if err := ch.Setup(buffer); err != nil {
		return nil, err
	}
	r.channels[role] = ch
	return ch, nil
}

// Get returns the channel for a role, if one was ever attached.
func (r *Registry) Get(role bus.Role) (*bus.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[role]
	return ch, ok
}

// Live returns every channel currently up.
func (r *Registry) Live() []*bus.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*bus.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.State() == bus.StateUp {
			out = append(out, ch)
		}
	}
	return out
}

// Len returns the number of tracked roles, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
