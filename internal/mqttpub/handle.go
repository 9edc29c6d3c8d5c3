// Package mqttpub implements the Publisher Pool: a deduplicated set of
// MQTT 3.1.1 publisher handles, shared by identity across Sessions, built
// on github.com/eclipse/paho.mqtt.golang.
package mqttpub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	disconnectTimeoutMS = 2000
	defaultRetryBudget  = 3
	keepAliveSecs       = 1

	// Package-level default credentials. The original source connects with
	// these literal defaults rather than threading per-session credentials
	// through, so this preserves that behavior rather than inventing a
	// per-session credential path the source never had.
	defaultUsername = "user1"
	defaultPassword = "liverymqtt123"
)

// ErrSendAbandoned is returned once the retry budget for Publish is
// exhausted, per exmg_mqtt_pub_send's "abandoning retrials" path.
var ErrSendAbandoned = errors.New("mqttpub: abandoning retrials, failed to publish")

// Config is the per-handle publish configuration: destination topic and
// client identity, independent of the broker URL.
type Config struct {
	ClientID string
	Topic    string
}

// Handle is a single MQTT publisher, identified by (url, topic, client_id).
// All exported methods are safe for concurrent use; client_lock is held
// around every connect and publish, resolving the source's inconsistent
// locking around the underlying client.
type Handle struct {
	serverURL string
	config    Config
	isTLS     bool

	logger *slog.Logger

	clientLock  sync.Mutex
	native      mqtt.Client
	isConnected bool
}

func newHandle(serverURL string, config Config, logger *slog.Logger) *Handle {
	isTLS := strings.HasPrefix(serverURL, "ssl://") || strings.HasPrefix(serverURL, "wss://")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(serverURL)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(defaultUsername)
	opts.SetPassword(defaultPassword)
	opts.SetKeepAlive(keepAliveSecs * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(10 * time.Second)

	h := &Handle{
		serverURL: serverURL,
		config:    config,
		isTLS:     isTLS,
		logger:    logger.With("mqtt_url", serverURL, "mqtt_topic", config.Topic, "mqtt_client_id", config.ClientID),
	}
	h.native = mqtt.NewClient(opts)
	return h
}

// IsConnected reports the handle's last known connection state.
func (h *Handle) IsConnected() bool {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()
	return h.isConnected
}

// connect establishes the MQTT session if not already connected. Caller
// must hold clientLock.
func (h *Handle) connect() error {
	if h.isConnected {
		h.logger.Warn("connect called but already connected")
		return nil
	}

	h.logger.Info("connecting to MQTT broker", "is_tls", h.isTLS)
	token := h.native.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		h.isConnected = false
		return fmt.Errorf("mqttpub: connect timed out to %s", h.serverURL)
	}
	if err := token.Error(); err != nil {
		h.isConnected = false
		h.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("mqttpub: connect to %s: %w", h.serverURL, err)
	}

	h.isConnected = true
	h.logger.Info("connected to MQTT broker")
	return nil
}

// Publish sends payload to the handle's topic, reconnecting and retrying
// up to retryBudget times on failure. retryBudget < 0 uses the default
// budget (3), matching exmg_mqtt_pub_send's retry_counter convention.
func (h *Handle) Publish(ctx context.Context, payload []byte, retryBudget int) error {
	if retryBudget < 0 {
		retryBudget = defaultRetryBudget
	}
	return h.publishWithRetry(ctx, payload, retryBudget)
}

func (h *Handle) publishWithRetry(ctx context.Context, payload []byte, retryBudget int) error {
	if retryBudget == 0 {
		h.logger.Error("abandoning retrials, permanently failed to publish message")
		return ErrSendAbandoned
	}

	h.clientLock.Lock()
	if !h.isConnected {
		if err := h.connect(); err != nil {
			h.clientLock.Unlock()
			h.logger.Warn("connect failed before publish, retrial attempts left", "retries_left", retryBudget-1)
			return h.publishWithRetry(ctx, payload, retryBudget-1)
		}
	}

	token := h.native.Publish(h.config.Topic, 0, false, payload)
	ok := token.WaitTimeout(10 * time.Second)
	err := token.Error()
	h.clientLock.Unlock()

	if !ok || err != nil {
		h.clientLock.Lock()
		h.isConnected = false
		h.clientLock.Unlock()
		h.logger.Warn("publish failed, retrial attempts left", "retries_left", retryBudget-1, "error", err)
		return h.publishWithRetry(ctx, payload, retryBudget-1)
	}

	h.logger.Debug("published message", "bytes", len(payload))
	return nil
}

// Ping sends a 4-byte "ping" payload with the default retry budget, the
// startup health-check the original performs inline during session init
// (original_source/exmg/exmg_mqtt.h has no named helper for this; the
// behavior is inlined in exmg_secure_sync_enc_session_init).
func (h *Handle) Ping(ctx context.Context) error {
	return h.Publish(ctx, []byte("ping"), -1)
}

// Disconnect tears down the MQTT session with the original's 2000ms
// quiesce timeout.
func (h *Handle) Disconnect() {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()

	if !h.isConnected {
		return
	}
	h.native.Disconnect(disconnectTimeoutMS)
	h.isConnected = false
	h.logger.Info("disconnected from MQTT broker")
}
