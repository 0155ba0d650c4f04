package gateway

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnsupportedChannel is returned for channel source types with no
	// registered gateway.
	ErrUnsupportedChannel = errors.New("unsupported channel source type")
	// ErrUnsupportedPlatform is returned for marketplace types with no
	// registered gateway. Callers treat this as a capability check: the
	// push stage skips unsupported marketplaces rather than failing.
	ErrUnsupportedPlatform = errors.New("unsupported platform type")
)

// Registry resolves gateways by their source/platform type string.
// Gateways are registered once at startup; resolution is read-only after.
type Registry struct {
	mu        sync.RWMutex
	channels  map[string]ChannelGateway
	platforms map[string]PlatformGateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		channels:  make(map[string]ChannelGateway),
		platforms: make(map[string]PlatformGateway),
	}
}

// RegisterChannel registers a channel gateway under its source type.
func (r *Registry) RegisterChannel(gw ChannelGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[gw.SourceType()] = gw
}

// RegisterPlatform registers a platform gateway under its platform type.
func (r *Registry) RegisterPlatform(gw PlatformGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[gw.PlatformType()] = gw
}

// Channel resolves the gateway for an upstream source type.
func (r *Registry) Channel(sourceType string) (ChannelGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.channels[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, sourceType)
	}
	return gw, nil
}

// Platform resolves the gateway for a marketplace type.
func (r *Registry) Platform(platformType string) (PlatformGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.platforms[platformType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platformType)
	}
	return gw, nil
}

// ChannelTypes lists the registered channel source types.
func (r *Registry) ChannelTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	return types
}

// PlatformTypes lists the registered platform types.
func (r *Registry) PlatformTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.platforms))
	for t := range r.platforms {
		types = append(types, t)
	}
	return types
}
