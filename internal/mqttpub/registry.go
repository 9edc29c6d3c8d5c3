package mqttpub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// maxHandles mirrors the original's fixed ctx_ptrs[0xFF] collection size.
const maxHandles = 255

// ErrRegistryFull is returned when Acquire would need to create a new
// Handle but the registry is already at maxHandles — replacing the
// original's silent array-overflow with a surfaced error.
var ErrRegistryFull = errors.New("mqttpub: registry full, cannot acquire new handle")

type identity struct {
	url      string
	topic    string
	clientID string
}

// Registry deduplicates Handles by (url, topic, client_id), matching
// exmg_mqtt_pub_context_init's linear scan over its global context
// collection. Safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	handles map[identity]*Handle
	refs    map[identity]int
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		handles: make(map[identity]*Handle),
		refs:    make(map[identity]int),
	}
}

// Acquire returns the Handle for (url, config), creating one if none
// exists yet. config.ClientID is defaulted to a fresh UUID-derived ID when
// left empty, since an empty client ID would collide across every caller
// that also left it empty. Each Acquire must be paired with a Release
// using the returned Handle.
//
// Handle creation runs unlocked: newHandle only allocates and constructs
// the MQTT client, never dials the network, but the registry lock is held
// only for the existing-handle check and the final insert, never across
// construction. Another goroutine may win the race and insert first; that
// handle is used instead and this call's own construction is discarded.
func (r *Registry) Acquire(url string, config Config) (*Handle, error) {
	if config.ClientID == "" {
		config.ClientID = "keysync-" + uuid.NewString()
	}
	id := identity{url: url, topic: config.Topic, clientID: config.ClientID}

	r.mu.Lock()
	if h, ok := r.handles[id]; ok {
		r.refs[id]++
		r.mu.Unlock()
		r.logger.Info("reusing existing MQTT publisher handle", "mqtt_url", url, "mqtt_topic", config.Topic)
		return h, nil
	}
	if len(r.handles) >= maxHandles {
		r.mu.Unlock()
		return nil, ErrRegistryFull
	}
	r.mu.Unlock()

	h := newHandle(url, config, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[id]; ok {
		r.refs[id]++
		r.logger.Info("reusing existing MQTT publisher handle", "mqtt_url", url, "mqtt_topic", config.Topic)
		return existing, nil
	}
	if len(r.handles) >= maxHandles {
		return nil, ErrRegistryFull
	}

	r.handles[id] = h
	r.refs[id] = 1
	return h, nil
}

// Release decrements the reference count for h, disconnecting and
// removing it once the count reaches zero. Callers must pass the exact
// Handle returned by Acquire, since Acquire may have defaulted an empty
// client_id — a caller-reconstructed Config could otherwise miss the
// registry's entry entirely.
func (r *Registry) Release(h *Handle) {
	id := identity{url: h.serverURL, topic: h.config.Topic, clientID: h.config.ClientID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[id]; !ok {
		return
	}

	r.refs[id]--
	if r.refs[id] > 0 {
		return
	}

	h.Disconnect()
	delete(r.handles, id)
	delete(r.refs, id)
}

// Len reports the number of distinct handles currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
