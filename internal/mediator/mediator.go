// Package mediator implements the central dispatcher spec §4.8
// describes: it owns the sender and handler instances, routes inbound
// frames to the first handler that recognizes them, batches acks on a
// timer, and is the single point that knows whether a socket is
// currently open.
//
// Grounded on internal/homeassistant/websocket.go's pending-request
// map plus single-writer mutex, generalized from "correlate a response
// to a request id" to "route a typed frame to one of several typed
// handlers", and on connwatch/mqtt's time.Ticker idiom for the
// ack-batch timer.
package mediator

import (
	"sync"
	"time"

	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/handler"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/registry"
	"github.com/cobalt-oss/autopush-client/internal/sender"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

// DefaultAckInterval is the default ack-batch period (spec §4.8).
const DefaultAckInterval = 30 * time.Second

// SocketWriter is the narrow slice of the open socket the mediator
// needs: encode a frame as JSON and write it. [internal/pushmanager]
// supplies the concrete gorilla/websocket-backed implementation.
type SocketWriter interface {
	WriteJSON(v any) error
}

// Mediator owns every sender and handler, the ack queue, and the
// open socket reference (spec §4.8). The zero value is not usable;
// construct with [New]. Safe for concurrent use.
type Mediator struct {
	registry *registry.Registry
	logger   *logging.Logger

	helloSender       *sender.HelloSender
	registerSender    *sender.RegisterSender
	unregisterSender  *sender.UnregisterSender
	ackSender         *sender.AckSender
	pingSender        *sender.PingSender

	helloHandler        *handler.HelloHandler
	registerHandler      *handler.RegisterHandler
	unregisterHandler    *handler.UnregisterHandler
	notificationHandler  *handler.NotificationHandler
	pingHandler          *handler.PingHandler
	broadcastHandler     *handler.BroadcastHandler
	handlers             []handler.Handler

	mu     sync.Mutex
	socket SocketWriter
	queue  []protocol.AckUpdate

	ackInterval time.Duration
	ticker      *time.Ticker
	stop        chan struct{}
	stopOnce    sync.Once
}

// New builds a mediator wired to registry and manager (the
// [handler.HelloCompleter] / [sender.UAIDSource] the hello flow needs),
// and starts its ack-batch timer. ackInterval defaults to
// [DefaultAckInterval] when zero.
func New(reg *registry.Registry, manager interface {
	handler.HelloCompleter
	sender.UAIDSource
}, logger *logging.Logger, ackInterval time.Duration) *Mediator {
	if ackInterval <= 0 {
		ackInterval = DefaultAckInterval
	}
	logger = logger.With("mediator")

	m := &Mediator{
		registry:    reg,
		logger:      logger,
		ackInterval: ackInterval,
		stop:        make(chan struct{}),
	}

	m.helloSender = sender.NewHelloSender()
	m.ackSender = sender.NewAckSender()
	m.pingSender = sender.NewPingSender()

	m.registerHandler = handler.NewRegisterHandler(m, reg, logger)
	m.unregisterHandler = handler.NewUnregisterHandler(m, reg, logger)
	m.notificationHandler = handler.NewNotificationHandler(reg, m, logger)
	m.pingHandler = handler.NewPingHandler(logger)
	m.broadcastHandler = handler.NewBroadcastHandler(logger)
	m.helloHandler = handler.NewHelloHandler(manager, reg, m, m.pingSender, logger)

	m.registerSender = sender.NewRegisterSender(manager, m.registerHandler)
	m.unregisterSender = sender.NewUnregisterSender(m.unregisterHandler)

	m.handlers = []handler.Handler{
		m.helloHandler,
		m.registerHandler,
		m.unregisterHandler,
		m.notificationHandler,
		m.pingHandler,
		m.broadcastHandler,
	}

	m.ticker = time.NewTicker(ackInterval)
	go m.ackLoop()

	return m
}

func (m *Mediator) ackLoop() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.ticker.C:
			m.drainAcks()
		}
	}
}

func (m *Mediator) drainAcks() {
	m.mu.Lock()
	if len(m.queue) == 0 || m.socket == nil {
		m.mu.Unlock()
		return
	}
	updates := m.queue
	m.queue = nil
	socket := m.socket
	m.mu.Unlock()

	frame := m.ackSender.Build(updates)
	if err := socket.WriteJSON(frame); err != nil {
		m.logger.Warn("failed to send ack batch", "error", err, "count", len(updates))
	}
}

// SetSocket installs the currently open socket, or clears it when nil
// (spec §4.9.1 "on close: null the socket").
func (m *Mediator) SetSocket(socket SocketWriter) {
	m.mu.Lock()
	m.socket = socket
	m.mu.Unlock()
}

func (m *Mediator) writeFrame(v any) error {
	m.mu.Lock()
	socket := m.socket
	m.mu.Unlock()
	if socket == nil {
		return protocol.ErrNoSocket
	}
	return socket.WriteJSON(v)
}

// SendHello sends a hello frame (spec §4.9.1).
func (m *Mediator) SendHello(uaid string, channelIDs []string) error {
	return m.writeFrame(m.helloSender.Build(uaid, channelIDs))
}

// SendRegisterFrame sends a register frame for options, wiring
// eventManager into the register handler's expectation so a later
// successful reply can continue dispatching pushsubscriptionchange on
// it (spec §4.6, §4.7). Used directly by a host's subscribe call and by
// [RegisterHandler]'s own retry paths.
func (m *Mediator) SendRegisterFrame(options subscription.Options, eventManager *events.Manager) error {
	frame, err := m.registerSender.Build(options, eventManager)
	if err != nil {
		return err
	}
	return m.writeFrame(frame)
}

// SendUnregister sends an unregister frame (spec §4.6).
func (m *Mediator) SendUnregister(channelID string, code protocol.UnregisterCode) error {
	return m.writeFrame(m.unregisterSender.Build(channelID, code))
}

// SendPing sends a ping frame, subject to the sender's minimum spacing
// (spec §4.6).
func (m *Mediator) SendPing() error {
	frame, err := m.pingSender.Build()
	if err != nil {
		return err
	}
	return m.writeFrame(frame)
}

// PingNextAllowed reports when the next ping may be sent (SPEC_FULL.md
// §4 supplemented diagnostic).
func (m *Mediator) PingNextAllowed() time.Time {
	return m.pingSender.NextAllowed()
}

// Ack enqueues a single ack update for the next batch (spec §4.8).
func (m *Mediator) Ack(update protocol.AckUpdate) {
	m.mu.Lock()
	m.queue = append(m.queue, update)
	m.mu.Unlock()
}

// Handle parses raw as a JSON frame envelope and routes it to the
// first handler whose Handles returns true (spec §4.8 "handle(frame):
// pick the first handler whose handles(frame) returns true; otherwise
// log and drop").
func (m *Mediator) Handle(raw []byte) error {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		return err
	}
	for _, h := range m.handlers {
		if h.Handles(env) {
			return h.Handle(env)
		}
	}
	m.logger.Warn("no handler registered for message type, dropping", "messageType", env.MessageType)
	return nil
}

// SendRegister implements [subscription.RegisterRequester] for
// [internal/registry.Registry.ReInitAll]: it looks up the subscription
// currently holding applicationServerKey (if any, to carry its options
// and event manager forward) and sends a fresh register frame.
func (m *Mediator) SendRegister(applicationServerKey string) error {
	options := subscription.Options{ApplicationServerKey: applicationServerKey}
	var eventManager *events.Manager
	if old := m.registry.GetByApplicationServerKey(applicationServerKey); old != nil {
		options = old.Options()
		eventManager = old.Events()
	}
	return m.SendRegisterFrame(options, eventManager)
}

// AwaitRegister implements [subscription.RegisterRequester], delegating
// to the register handler's promise.
func (m *Mediator) AwaitRegister(applicationServerKey string) (*subscription.Subscription, error) {
	return m.registerHandler.AwaitRegister(applicationServerKey)
}

// AwaitUnregister exposes the unregister handler's promise for a host's
// unsubscribe call (spec §4.9.2).
func (m *Mediator) AwaitUnregister(channelID string) error {
	return m.unregisterHandler.AwaitUnregister(channelID)
}

// Destroy stops the ack-batch timer (spec §4.8).
func (m *Mediator) Destroy() {
	m.stopOnce.Do(func() {
		m.ticker.Stop()
		close(m.stop)
	})
}
