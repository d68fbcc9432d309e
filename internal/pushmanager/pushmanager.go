// Package pushmanager implements the host-facing push manager spec
// §4.9 describes: it owns the socket lifecycle state machine, the
// cached UAID, and the subscribe/unsubscribe surface a host calls.
//
// Grounded on internal/homeassistant/websocket.go's Connect/Reconnect/
// readLoop shape, generalized from an on-demand Reconnect (triggered by
// a connwatch OnReady callback) to an autonomous background reconnect
// loop paced the way internal/connwatch.Watcher paces its startup
// backoff, simplified to spec §4.9.1's single constant reconnectDelay.
package pushmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/handler"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/mediator"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/registry"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

// State is a position in the socket lifecycle state machine (spec
// §4.9.1): Idle -> Connecting -> Open (pre-hello) -> Ready -> Closed
// -> optionally Reconnecting -> Connecting ...
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReady
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultAutopushURL is the production Mozilla Autopush endpoint (spec
// §4.9).
const DefaultAutopushURL = "wss://push.services.mozilla.com"

// DefaultReconnectDelay is the constant pacing between reconnect
// attempts (spec §4.9.1 "reconnect_delay (default constant 1000 ms)").
const DefaultReconnectDelay = time.Second

// helloSettleDelay is the pause between a hello reply landing and the
// hello_completed promise resolving (spec §4.9.1: "the delay reduces
// races with an imminent close on a rotated UAID").
const helloSettleDelay = time.Second

const keyUAID = "uaid"

// Options configures [Create] (spec §4.9).
type Options struct {
	AutopushURL     string
	AckIntervalMs   int
	ReconnectDelayMs int
}

func (o Options) withDefaults() Options {
	if o.AutopushURL == "" {
		o.AutopushURL = DefaultAutopushURL
	}
	if o.AckIntervalMs <= 0 {
		o.AckIntervalMs = int(mediator.DefaultAckInterval / time.Millisecond)
	}
	if o.ReconnectDelayMs <= 0 {
		o.ReconnectDelayMs = int(DefaultReconnectDelay / time.Millisecond)
	}
	return o
}

// Dialer opens a WebSocket connection. [gorillaDialer] wraps
// gorilla/websocket; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Socket is the bidirectional frame transport a Dialer hands back.
type Socket interface {
	mediator.SocketWriter
	ReadMessage() ([]byte, error)
	Close() error
}

// PushManager is the host-facing entry point (spec §4.9). The zero
// value is not usable; construct with [Create].
type PushManager struct {
	store    *storage.Store
	logger   *logging.Logger
	registry *registry.Registry
	mediator *mediator.Mediator
	dialer   Dialer

	autopushURL    string
	reconnectDelay time.Duration

	mu        sync.Mutex
	uaid      string
	state     State
	socket    Socket
	hello     *helloPromise
	reconnect bool
	lastHello time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type helloPromise struct {
	ch   chan struct{}
	once sync.Once
}

func newHelloPromise() *helloPromise { return &helloPromise{ch: make(chan struct{})} }
func (p *helloPromise) resolve()     { p.once.Do(func() { close(p.ch) }) }

// Create builds a push manager over store (spec §4.9 steps 1-4): it
// loads any persisted uaid, builds the subscription registry, wires the
// mediator, and opens the socket. opts may be nil for defaults.
func Create(store *storage.Store, logger *logging.Logger, opts *Options) (*PushManager, error) {
	return create(store, logger, opts, newGorillaDialer())
}

func create(store *storage.Store, logger *logging.Logger, opts *Options, dialer Dialer) (*PushManager, error) {
	options := Options{}
	if opts != nil {
		options = *opts
	}
	options = options.withDefaults()

	logger = logger.With("pushmanager")

	uaid, _, err := storage.Read[string](store, keyUAID)
	if err != nil {
		return nil, err
	}

	p := &PushManager{
		store:          store,
		logger:         logger,
		autopushURL:    options.AutopushURL,
		reconnectDelay: time.Duration(options.ReconnectDelayMs) * time.Millisecond,
		uaid:           uaid,
		dialer:         dialer,
		reconnect:      true,
		done:           make(chan struct{}),
	}

	reg, err := registry.New(store, logger, p.unsubscribe)
	if err != nil {
		return nil, err
	}
	p.registry = reg
	p.mediator = mediator.New(reg, p, logger, time.Duration(options.AckIntervalMs)*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.connectLoop(ctx)

	return p, nil
}

func (p *PushManager) unsubscribe(channelID string) {
	p.logger.Debug("subscription requested its own removal", "channelID", channelID)
	if err := p.registry.Remove(channelID); err != nil {
		p.logger.Warn("failed to remove subscription", "channelID", channelID, "error", err)
	}
}

// UAID implements [sender.UAIDSource].
func (p *PushManager) UAID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uaid, p.uaid != ""
}

// CompleteHello implements [handler.HelloCompleter] (spec §4.9.1 "On
// hello response"). The new uaid is persisted immediately; hello_completed
// resolves after [helloSettleDelay] to reduce races with an imminent
// close on a rotated UAID.
func (p *PushManager) CompleteHello(newUAID string) (oldUAID string, rotated bool) {
	p.mu.Lock()
	oldUAID = p.uaid
	rotated = oldUAID != "" && oldUAID != newUAID
	changed := p.uaid != newUAID
	if changed {
		p.uaid = newUAID
	}
	promise := p.hello
	p.lastHello = time.Now()
	p.mu.Unlock()

	if changed {
		if err := storage.Write(p.store, keyUAID, newUAID); err != nil {
			p.logger.Warn("failed to persist rotated uaid", "error", err)
		}
	}

	if promise != nil {
		time.AfterFunc(helloSettleDelay, promise.resolve)
	}
	return oldUAID, rotated
}

func (p *PushManager) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *PushManager) connectLoop(ctx context.Context) {
	defer close(p.done)
	limiter := newReconnectLimiter(p.reconnectDelay)

	for {
		if err := limiter.wait(ctx); err != nil {
			return
		}

		if err := p.connectOnce(ctx); err != nil {
			p.logger.Warn("connect attempt failed", "error", err)
		}

		p.mu.Lock()
		stillWanted := p.reconnect
		p.mu.Unlock()
		if !stillWanted {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *PushManager) connectOnce(ctx context.Context) error {
	p.setState(StateConnecting)

	socket, err := p.dialer.Dial(ctx, p.autopushURL)
	if err != nil {
		p.setState(StateClosed)
		return fmt.Errorf("pushmanager: dial: %w", err)
	}

	p.mu.Lock()
	p.socket = socket
	p.hello = newHelloPromise()
	promise := p.hello
	p.mu.Unlock()

	p.setState(StateOpen)
	p.mediator.SetSocket(socket)

	uaid, _ := p.UAID()
	if err := p.mediator.SendHello(uaid, p.registry.ChannelIDs()); err != nil {
		p.closeSocket(socket)
		return fmt.Errorf("pushmanager: send hello: %w", err)
	}

	closed := make(chan struct{})
	go func() {
		p.readLoop(socket)
		close(closed)
	}()

	select {
	case <-promise.ch:
		p.setState(StateReady)
	case <-closed:
		return fmt.Errorf("pushmanager: socket closed before hello completed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *PushManager) readLoop(socket Socket) {
	for {
		raw, err := socket.ReadMessage()
		if err != nil {
			p.logger.Debug("socket closed", "error", err)
			p.onClose(socket)
			return
		}
		if err := p.mediator.Handle(raw); err != nil {
			p.logger.Warn("failed handling inbound frame", "error", err)
		}
	}
}

func (p *PushManager) onClose(socket Socket) {
	p.mu.Lock()
	if p.socket == socket {
		p.socket = nil
	}
	p.mu.Unlock()
	p.mediator.SetSocket(nil)
	p.setState(StateClosed)
}

func (p *PushManager) closeSocket(socket Socket) {
	_ = socket.Close()
	p.onClose(socket)
}

// Subscribe implements the host-facing subscribe call (spec §4.9.2): if
// a subscription already exists for options.ApplicationServerKey it is
// returned directly; otherwise a register frame is sent and the call
// blocks until the server confirms or ctx is done.
func (p *PushManager) Subscribe(ctx context.Context, options subscription.Options) (*subscription.Subscription, error) {
	if options.ApplicationServerKey == "" {
		return nil, protocol.ErrMissingApplicationServerKey
	}
	if existing := p.registry.GetByApplicationServerKey(options.ApplicationServerKey); existing != nil {
		return existing, nil
	}

	type result struct {
		sub *subscription.Subscription
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		sub, err := p.mediator.AwaitRegister(options.ApplicationServerKey)
		resultCh <- result{sub, err}
	}()

	if err := p.mediator.SendRegisterFrame(options, nil); err != nil {
		return nil, err
	}

	select {
	case r := <-resultCh:
		return r.sub, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe implements the host-facing unsubscribe call (spec
// §4.9.2).
func (p *PushManager) Unsubscribe(ctx context.Context, channelID string) error {
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- p.mediator.AwaitUnregister(channelID)
	}()

	if err := p.mediator.SendUnregister(channelID, protocol.UnregisterUserUnsubscribed); err != nil {
		return err
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddEventListener delegates to the subscription for channelID, or
// returns false if no such subscription exists.
func (p *PushManager) AddEventListener(channelID, topic string, fn events.Listener) (events.ListenerID, bool) {
	sub := p.registry.Get(channelID)
	if sub == nil {
		return "", false
	}
	return sub.AddEventListener(topic, fn), true
}

// Status reports host-facing diagnostics (SPEC_FULL.md §4 supplemented
// feature, grounded on connwatch.Manager.Status()).
type Status struct {
	UAID              string
	State             State
	SubscriptionCount int
	LastHello         time.Time
	PingNextAllowed   time.Time
}

func (p *PushManager) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		UAID:              p.uaid,
		State:             p.state,
		SubscriptionCount: len(p.registry.ChannelIDs()),
		LastHello:         p.lastHello,
		PingNextAllowed:   p.mediator.PingNextAllowed(),
	}
}

// Ping sends a keepalive ping subject to the sender's minimum spacing
// (spec §4.6).
func (p *PushManager) Ping() error {
	return p.mediator.SendPing()
}

// Destroy shuts the manager down gracefully (spec §4.9.1 "On manager
// destroy: clear the reconnect flag and close the socket; stop the
// mediator timer").
func (p *PushManager) Destroy() {
	p.mu.Lock()
	p.reconnect = false
	socket := p.socket
	p.socket = nil
	p.mu.Unlock()

	if socket != nil {
		_ = socket.Close()
	}
	p.cancel()
	<-p.done
	p.mediator.Destroy()
}

var _ handler.HelloCompleter = (*PushManager)(nil)
