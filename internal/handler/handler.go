// Package handler implements the server→client frame handlers spec
// §4.7 describes: each handler reports whether it recognizes an
// inbound envelope and, if so, acts on it, including the
// expect/await register and unregister bookkeeping that resolves a
// host's subscribe/unsubscribe call.
//
// Grounded on internal/signal/client.go's request/response correlation
// by id, generalized from a single pending-request map to the
// expect/await pattern spec §4.7 and §5 describe (60-second entry
// expiry, no correlation id beyond the channel-id itself).
package handler

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

// expectTTL is how long an expect_register/expect_unregister entry
// stays valid before a late server reply is treated as unexpected
// (spec §5 "Cancellation and timeouts").
const expectTTL = 60 * time.Second

// retryAfter is how long RegisterHandler/UnregisterHandler wait before
// retrying a 500 response (spec §4.7).
const retryAfter = 60 * time.Second

// Handler is the common shape every server-frame handler implements
// (spec §4.7 "handles(frame) -> bool" / "handle(frame)"); Mediator
// dispatches to the first handler in its list whose Handles returns
// true.
type Handler interface {
	Handles(env protocol.Envelope) bool
	Handle(env protocol.Envelope) error
}

// HelloCompleter is the manager-side operation HelloHandler drives
// (spec §4.9.1 "On hello response").
type HelloCompleter interface {
	CompleteHello(newUAID string) (oldUAID string, rotated bool)
}

// RegistrySubscriptionReInitiator is the slice of
// [internal/registry.Registry] HelloHandler needs after a UAID
// rotation (spec §4.7 "calls registry.re_init_all(mediator)").
type RegistrySubscriptionReInitiator interface {
	ReInitAll(mediator subscription.RegisterRequester) error
}

// Pinger receives notice that a server-initiated exchange should count
// as a ping for spacing purposes (spec §4.7 "informs the ping sender
// that the server-initiated exchange counts as a ping").
type Pinger interface {
	JustPinged()
}

// HelloHandler handles the server hello reply (spec §4.7).
type HelloHandler struct {
	manager  HelloCompleter
	registry RegistrySubscriptionReInitiator
	mediator subscription.RegisterRequester
	ping     Pinger
	logger   *logging.Logger
}

func NewHelloHandler(manager HelloCompleter, registry RegistrySubscriptionReInitiator, mediator subscription.RegisterRequester, ping Pinger, logger *logging.Logger) *HelloHandler {
	return &HelloHandler{manager: manager, registry: registry, mediator: mediator, ping: ping, logger: logger.With("hello-handler")}
}

func (h *HelloHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessageHello
}

func (h *HelloHandler) Handle(env protocol.Envelope) error {
	var frame protocol.ServerHelloFrame
	if err := json.Unmarshal(env.Raw, &frame); err != nil {
		return fmt.Errorf("hello-handler: decode: %w", err)
	}

	oldUAID, rotated := h.manager.CompleteHello(frame.UAID)
	if rotated && oldUAID != "" {
		// ReInitAll awaits a register reply per subscription, which can
		// only arrive by this same goroutine reading the next socket
		// frame. Running it inline here would deadlock the read loop
		// against itself, so it runs on its own goroutine instead (spec
		// §5's cooperative-await model assumes a yield point Go's
		// blocking reader doesn't have).
		go func() {
			if err := h.registry.ReInitAll(h.mediator); err != nil {
				h.logger.Warn("re-init after UAID rotation failed", "error", err)
			}
		}()
	}
	h.ping.JustPinged()
	return nil
}

// RegisterSendRequester is the narrow mediator slice RegisterHandler
// needs to retry a register (spec §4.7 "retries immediately using the
// queued options") or clean up an orphaned channel-id (spec §4.7 "sends
// an unregister with code 200 to clean up").
type RegisterSendRequester interface {
	SendRegisterFrame(options subscription.Options, eventManager *events.Manager) error
	SendUnregister(channelID string, code protocol.UnregisterCode) error
}

// SubscriptionCreator is the registry slice RegisterHandler needs to
// materialize a subscription once the server confirms a channel-id
// (spec §4.7 "creates a subscription via the registry").
type SubscriptionCreator interface {
	Add(channelID, endpoint string, options subscription.Options, eventManager *events.Manager) (*subscription.Subscription, error)
}

type expectRegisterEntry struct {
	options      subscription.Options
	eventManager *events.Manager
	expiresAt    time.Time
}

// RegisterHandler handles the server register reply (spec §4.7).
type RegisterHandler struct {
	sender     RegisterSendRequester
	registry   SubscriptionCreator
	logger     *logging.Logger
	now        func() time.Time
	retryAfter time.Duration

	mu       sync.Mutex
	expected map[string]expectRegisterEntry

	registered *events.Manager
}

func NewRegisterHandler(sender RegisterSendRequester, registry SubscriptionCreator, logger *logging.Logger) *RegisterHandler {
	return &RegisterHandler{
		sender:     sender,
		registry:   registry,
		logger:     logger.With("register-handler"),
		now:        time.Now,
		retryAfter: retryAfter,
		expected:   make(map[string]expectRegisterEntry),
		registered: events.New(nil),
	}
}

// ExpectRegister records that channelID is awaiting a register reply
// (spec §4.6 "informs the register handler via expect_register").
func (h *RegisterHandler) ExpectRegister(channelID string, options subscription.Options, eventManager *events.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expected[channelID] = expectRegisterEntry{options: options, eventManager: eventManager, expiresAt: h.now().Add(expectTTL)}
}

func (h *RegisterHandler) popExpected(channelID string) (expectRegisterEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.expected[channelID]
	if !ok {
		return expectRegisterEntry{}, false
	}
	delete(h.expected, channelID)
	if h.now().After(entry.expiresAt) {
		return expectRegisterEntry{}, false
	}
	return entry, true
}

func (h *RegisterHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessageRegister
}

func (h *RegisterHandler) Handle(env protocol.Envelope) error {
	var frame protocol.ServerRegisterFrame
	if err := json.Unmarshal(env.Raw, &frame); err != nil {
		return fmt.Errorf("register-handler: decode: %w", err)
	}

	entry, ok := h.popExpected(frame.ChannelID)
	if !ok {
		h.logger.Warn("register reply for unexpected channel-id, cleaning up", "channelID", frame.ChannelID)
		return h.sender.SendUnregister(frame.ChannelID, protocol.UnregisterUserUnsubscribed)
	}

	switch frame.Status {
	case 200:
		sub, err := h.registry.Add(frame.ChannelID, frame.PushEndpoint, entry.options, entry.eventManager)
		if err != nil {
			return fmt.Errorf("register-handler: create subscription: %w", err)
		}
		h.registered.DispatchEvent("registered", sub, frame.ChannelID)
		return nil
	case 409:
		h.logger.Debug("register conflict, retrying immediately", "channelID", frame.ChannelID)
		return h.sender.SendRegisterFrame(entry.options, entry.eventManager)
	case 500:
		h.logger.Warn("register server error, retrying in 60s", "channelID", frame.ChannelID)
		time.AfterFunc(h.retryAfter, func() {
			if err := h.sender.SendRegisterFrame(entry.options, entry.eventManager); err != nil {
				h.logger.Warn("retried register failed to send", "error", err)
			}
		})
		return nil
	default:
		h.logger.Warn("unexpected register status, dropping", "status", frame.Status, "channelID", frame.ChannelID)
		return nil
	}
}

// AwaitRegister blocks until a "registered" event matches
// applicationServerKey, then returns the subscription it carried
// (spec §4.7 "exposes await_register(application_server_key)").
func (h *RegisterHandler) AwaitRegister(applicationServerKey string) (*subscription.Subscription, error) {
	result := make(chan *subscription.Subscription, 1)

	var id events.ListenerID
	id = h.registered.AddEventListener("registered", func(args ...any) {
		if len(args) < 1 {
			return
		}
		sub, ok := args[0].(*subscription.Subscription)
		if !ok || sub.Options().ApplicationServerKey != applicationServerKey {
			return
		}
		select {
		case result <- sub:
		default:
		}
		h.registered.RemoveEventListener("registered", id)
	})

	return <-result, nil
}

// UnregisterSendRequester is the narrow mediator slice UnregisterHandler
// needs to retry a 500 (spec §4.7 "re-enqueues the unregister after
// 60s").
type UnregisterSendRequester interface {
	SendUnregister(channelID string, code protocol.UnregisterCode) error
}

// SubscriptionRemover is the registry slice UnregisterHandler needs
// (spec §4.7 "asks the registry to remove the subscription").
type SubscriptionRemover interface {
	Remove(channelID string) error
}

type expectUnregisterEntry struct {
	expiresAt time.Time
}

// UnregisterHandler handles the server unregister reply (spec §4.7).
type UnregisterHandler struct {
	sender     UnregisterSendRequester
	registry   SubscriptionRemover
	logger     *logging.Logger
	now        func() time.Time
	retryAfter time.Duration

	mu       sync.Mutex
	expected map[string]expectUnregisterEntry

	unregistered *events.Manager
}

func NewUnregisterHandler(sender UnregisterSendRequester, registry SubscriptionRemover, logger *logging.Logger) *UnregisterHandler {
	return &UnregisterHandler{
		sender:       sender,
		registry:     registry,
		logger:       logger.With("unregister-handler"),
		now:          time.Now,
		retryAfter:   retryAfter,
		expected:     make(map[string]expectUnregisterEntry),
		unregistered: events.New(nil),
	}
}

// ExpectUnregister records that channelID is awaiting an unregister
// reply (spec §4.6).
func (h *UnregisterHandler) ExpectUnregister(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expected[channelID] = expectUnregisterEntry{expiresAt: h.now().Add(expectTTL)}
}

func (h *UnregisterHandler) popExpected(channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.expected[channelID]
	if !ok {
		return false
	}
	delete(h.expected, channelID)
	return !h.now().After(entry.expiresAt)
}

func (h *UnregisterHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessageUnregister
}

func (h *UnregisterHandler) Handle(env protocol.Envelope) error {
	var frame protocol.ServerUnregisterFrame
	if err := json.Unmarshal(env.Raw, &frame); err != nil {
		return fmt.Errorf("unregister-handler: decode: %w", err)
	}

	h.popExpected(frame.ChannelID) // not expected is not itself an error here; the server is confirming regardless

	switch frame.Status {
	case 200:
		if err := h.registry.Remove(frame.ChannelID); err != nil {
			h.logger.Warn("failed removing subscription after unregister confirm", "channelID", frame.ChannelID, "error", err)
		}
		h.unregistered.DispatchEvent("unregistered", frame.ChannelID)
		return nil
	case 500:
		h.logger.Warn("unregister server error, retrying in 60s", "channelID", frame.ChannelID)
		time.AfterFunc(h.retryAfter, func() {
			if err := h.sender.SendUnregister(frame.ChannelID, protocol.UnregisterUserUnsubscribed); err != nil {
				h.logger.Warn("retried unregister failed to send", "error", err)
			}
		})
		return nil
	default:
		h.logger.Warn("unexpected unregister status, dropping", "status", frame.Status, "channelID", frame.ChannelID)
		return nil
	}
}

// AwaitUnregister blocks until an "unregistered" event matches
// channelID (spec §4.7 "exposes await_unregister(channel_id)").
func (h *UnregisterHandler) AwaitUnregister(channelID string) error {
	done := make(chan struct{}, 1)

	var id events.ListenerID
	id = h.unregistered.AddEventListener("unregistered", func(args ...any) {
		if len(args) < 1 {
			return
		}
		got, ok := args[0].(string)
		if !ok || got != channelID {
			return
		}
		select {
		case done <- struct{}{}:
		default:
		}
		h.unregistered.RemoveEventListener("unregistered", id)
	})

	<-done
	return nil
}

// SubscriptionLookup is the registry slice NotificationHandler needs
// (spec §4.7 "looks up the subscription by channelID").
type SubscriptionLookup interface {
	Get(channelID string) *subscription.Subscription
}

// Acker is the mediator slice NotificationHandler needs to enqueue the
// ack every notification produces (spec §4.7 "always enqueues exactly
// one ack entry").
type Acker interface {
	Ack(update protocol.AckUpdate)
}

// NotificationHandler handles a push notification (spec §4.7).
type NotificationHandler struct {
	registry SubscriptionLookup
	mediator Acker
	logger   *logging.Logger
}

func NewNotificationHandler(registry SubscriptionLookup, mediator Acker, logger *logging.Logger) *NotificationHandler {
	return &NotificationHandler{registry: registry, mediator: mediator, logger: logger.With("notification-handler")}
}

func (h *NotificationHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessageNotification
}

func (h *NotificationHandler) Handle(env protocol.Envelope) error {
	var frame protocol.NotificationFrame
	if err := json.Unmarshal(env.Raw, &frame); err != nil {
		return fmt.Errorf("notification-handler: decode: %w", err)
	}

	sub := h.registry.Get(frame.ChannelID)
	if sub == nil {
		h.logger.Warn("notification for unknown channel-id", "channelID", frame.ChannelID)
		h.mediator.Ack(protocol.AckUpdate{ChannelID: frame.ChannelID, Version: frame.Version, Code: protocol.AckOtherFail})
		return nil
	}

	err := sub.HandleNotification(frame)
	code := protocol.AckCodeOf(err)
	if err != nil && code == protocol.AckOtherFail {
		h.logger.Warn("notification handling failed", "channelID", frame.ChannelID, "error", err)
	}
	h.mediator.Ack(protocol.AckUpdate{ChannelID: frame.ChannelID, Version: frame.Version, Code: code})
	return nil
}

// PingHandler handles the server ping (spec §4.7): purely a keepalive,
// logged and otherwise ignored.
type PingHandler struct {
	logger *logging.Logger
}

func NewPingHandler(logger *logging.Logger) *PingHandler {
	return &PingHandler{logger: logger.With("ping-handler")}
}

func (h *PingHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessagePing
}

func (h *PingHandler) Handle(env protocol.Envelope) error {
	h.logger.Trace("server ping received")
	return nil
}

// BroadcastHandler handles the server broadcast frame (spec §4.7).
// Reserved: accepts and no-ops.
type BroadcastHandler struct {
	logger *logging.Logger
}

func NewBroadcastHandler(logger *logging.Logger) *BroadcastHandler {
	return &BroadcastHandler{logger: logger.With("broadcast-handler")}
}

func (h *BroadcastHandler) Handles(env protocol.Envelope) bool {
	return env.MessageType == protocol.MessageBroadcast
}

func (h *BroadcastHandler) Handle(env protocol.Envelope) error {
	h.logger.Trace("broadcast received, ignoring")
	return nil
}
