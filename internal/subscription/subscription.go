// Package subscription implements a single push subscription (spec
// §4.4): its persisted state, its RFC 8291 decryption path, and the
// pushsubscriptionchange/notification events it fires.
//
// Grounded on internal/homeassistant/websocket.go's subscription
// tracking (a []string of topics restored on reconnect), generalized
// to per-channel state that owns its own ECDH keypair and auth secret
// rather than a bare topic name.
package subscription

import (
	"fmt"
	"net/url"

	"github.com/cobalt-oss/autopush-client/internal/codec"
	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/webpushcrypto"
)

// Options is the host-supplied subscription configuration persisted
// alongside the endpoint (spec §6 "Persisted state layout").
type Options struct {
	UserVisibleOnly      bool   `json:"userVisibleOnly"`
	ApplicationServerKey string `json:"applicationServerKey"`
}

// JSON is the host-facing projection returned by [Subscription.ToJSON]
// and carried in a pushsubscriptionchange event (spec §4.4).
type JSON struct {
	Endpoint       string  `json:"endpoint"`
	ExpirationTime *string `json:"expirationTime"`
	Keys           Keys    `json:"keys"`
}

// Keys holds the two public values a host needs to address this
// subscription from an application server.
type Keys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}

// UnsubscribeFunc is the callback a Subscription is constructed with for
// removing its channel-id from the registry. The Subscription stores it;
// no method of this package calls it, and [Subscription.Destroy] only
// removes persisted state.
type UnsubscribeFunc func(channelID string)

// Subscription is one channel-id's worth of push state: its endpoint,
// its ECDH keypair and auth secret, its options, and the event
// listeners a host has registered on it.
type Subscription struct {
	channelID string
	store     *storage.Store // already extended to this channel-id's namespace
	logger    *logging.Logger
	events    *events.Manager
	unsubCB   UnsubscribeFunc

	endpoint string
	options  Options
	auth     []byte
	keys     *webpushcrypto.KeyPair
}

const (
	keyEndpoint      = "endpoint"
	keyOptions       = "options"
	keyAuth          = "auth"
	keyPrivateEncKey = "privateEncKey"
)

// ChannelID returns the channel-id this subscription is addressed by.
func (s *Subscription) ChannelID() string { return s.channelID }

// Endpoint returns the push endpoint URL.
func (s *Subscription) Endpoint() string { return s.endpoint }

// Options returns the options this subscription was created with.
func (s *Subscription) Options() Options { return s.options }

// Create validates options and endpoint, generates fresh key material,
// persists everything under storage's channel-id namespace, and
// returns the new subscription (spec §4.4 "create"). If eventManager
// is non-nil (the re-init path), a pushsubscriptionchange event is
// dispatched synchronously with the new subscription's JSON
// projection.
func Create(channelID string, base *storage.Store, endpoint string, options Options, unsubCB UnsubscribeFunc, logger *logging.Logger, eventManager *events.Manager) (*Subscription, error) {
	if options.ApplicationServerKey == "" {
		return nil, protocol.ErrMissingApplicationServerKey
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("subscription: endpoint is not a valid absolute URL: %w", err)
	}

	store := base.Extend(channelID)

	auth, err := webpushcrypto.AuthSecret()
	if err != nil {
		return nil, fmt.Errorf("subscription: generate auth secret: %w", err)
	}
	keys, err := webpushcrypto.GenerateECKeys()
	if err != nil {
		return nil, fmt.Errorf("subscription: generate keypair: %w", err)
	}

	if err := storage.Write(store, keyEndpoint, endpoint); err != nil {
		return nil, err
	}
	if err := storage.Write(store, keyOptions, options); err != nil {
		return nil, err
	}
	if err := storage.Write(store, keyAuth, codec.Base64URLEncode(auth)); err != nil {
		return nil, err
	}
	jwk := webpushcrypto.ExportPrivateJWK(keys)
	if err := storage.Write(store, keyPrivateEncKey, jwk); err != nil {
		return nil, err
	}

	reinit := eventManager != nil
	if eventManager == nil {
		eventManager = events.New(func(topic string, r any) {
			logger.Warn("event listener panicked", "topic", topic, "recovered", r)
		})
	}

	s := &Subscription{
		channelID: channelID,
		store:     store,
		logger:    logger.With("subscription").With(channelID),
		events:    eventManager,
		unsubCB:   unsubCB,
		endpoint:  endpoint,
		options:   options,
		auth:      auth,
		keys:      keys,
	}

	if reinit {
		eventManager.DispatchEvent("pushsubscriptionchange", s.ToJSON())
	}

	return s, nil
}

// Recover loads a previously-created subscription's persisted state.
// It fails if any of endpoint, options, auth, or privateEncKey is
// missing (spec §4.4 "recover").
func Recover(channelID string, base *storage.Store, unsubCB UnsubscribeFunc, logger *logging.Logger) (*Subscription, error) {
	store := base.Extend(channelID)

	endpoint, ok, err := storage.Read[string](store, keyEndpoint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("subscription: recover %s: missing endpoint", channelID)
	}

	options, ok, err := storage.Read[Options](store, keyOptions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("subscription: recover %s: missing options", channelID)
	}

	authB64, ok, err := storage.Read[string](store, keyAuth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("subscription: recover %s: missing auth", channelID)
	}
	auth, err := codec.Base64URLDecode(authB64)
	if err != nil {
		return nil, fmt.Errorf("subscription: recover %s: invalid auth: %w", channelID, err)
	}

	jwk, ok, err := storage.Read[webpushcrypto.PrivateJWK](store, keyPrivateEncKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("subscription: recover %s: missing privateEncKey", channelID)
	}
	keys, err := webpushcrypto.ParsePrivateJWK(&jwk)
	if err != nil {
		return nil, fmt.Errorf("subscription: recover %s: invalid privateEncKey: %w", channelID, err)
	}

	childLogger := logger.With("subscription").With(channelID)
	eventManager := events.New(func(topic string, r any) {
		childLogger.Warn("event listener panicked", "topic", topic, "recovered", r)
	})

	return &Subscription{
		channelID: channelID,
		store:     store,
		logger:    childLogger,
		events:    eventManager,
		unsubCB:   unsubCB,
		endpoint:  endpoint,
		options:   options,
		auth:      auth,
		keys:      keys,
	}, nil
}

// AddEventListener delegates to the subscription's event manager
// (spec §4.4). Events: "notification" (optional string),
// "pushsubscriptionchange" (subscription JSON).
func (s *Subscription) AddEventListener(topic string, fn events.Listener) events.ListenerID {
	return s.events.AddEventListener(topic, fn)
}

// RemoveEventListener delegates to the subscription's event manager.
func (s *Subscription) RemoveEventListener(topic string, id events.ListenerID) {
	s.events.RemoveEventListener(topic, id)
}

// HandleNotification decrypts msg per spec §4.4 and dispatches a
// "notification" event with the UTF-8 plaintext, or nil for a
// keepalive notification with no data. Decryption/parse failures are
// returned as a *protocol.CodedError carrying [protocol.AckDecryptFail];
// OTHER_FAIL is reserved for authorization failures that are currently
// disabled (spec §9).
func (s *Subscription) HandleNotification(msg protocol.NotificationFrame) error {
	if !msg.HasData() {
		s.events.DispatchEvent("notification", nil)
		return nil
	}

	encoding := msg.Encoding()
	if encoding != "aes128gcm" {
		return protocol.NewCodedError(protocol.AckDecryptFail,
			fmt.Errorf("subscription: unsupported content-encoding %q", encoding))
	}

	record, err := codec.Base64URLDecode(*msg.Data)
	if err != nil {
		return protocol.NewCodedError(protocol.AckDecryptFail, fmt.Errorf("decode notification data: %w", err))
	}

	prep, err := webpushcrypto.WebPushDecryptPrep(s.keys, s.auth, record)
	if err != nil {
		return protocol.NewCodedError(protocol.AckDecryptFail, err)
	}

	decrypted, err := webpushcrypto.AESGCMDecrypt(prep.Ciphertext, prep.CEK, prep.Nonce)
	if err != nil {
		return protocol.NewCodedError(protocol.AckDecryptFail, err)
	}

	plaintext, err := webpushcrypto.RemovePadding(decrypted, true)
	if err != nil {
		return protocol.NewCodedError(protocol.AckDecryptFail, err)
	}

	s.events.DispatchEvent("notification", codec.BytesToUTF8(plaintext))
	return nil
}

// RegisterRequester is the narrow slice of the mediator [ReInit]
// needs: send a register frame for a VAPID key and await the
// registry's new subscription for it. [internal/mediator.Mediator]
// implements this; subscription does not import mediator, avoiding the
// import cycle spec §9 calls out ("Manager ↔ Mediator ↔
// Handlers/Senders... form a directed graph").
type RegisterRequester interface {
	SendRegister(applicationServerKey string) error
	AwaitRegister(applicationServerKey string) (*Subscription, error)
}

// ReInit asks the register handler to expect a fresh registration for
// this subscription's application server key, sends the register
// frame, and awaits the replacement subscription the registry creates
// once the server replies (spec §4.4). The caller (typically
// [internal/registry.Registry.ReInitAll]) is responsible for
// destroying and forgetting the original afterward.
func (s *Subscription) ReInit(mediator RegisterRequester) (*Subscription, error) {
	if err := mediator.SendRegister(s.options.ApplicationServerKey); err != nil {
		return nil, err
	}
	return mediator.AwaitRegister(s.options.ApplicationServerKey)
}

// Destroy removes every persisted key in this subscription's
// namespace (spec §4.4).
func (s *Subscription) Destroy() error {
	for _, key := range []string{keyEndpoint, keyOptions, keyAuth, keyPrivateEncKey} {
		if err := s.store.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// ToJSON returns the host-facing projection of this subscription
// (spec §4.4). expirationTime is always null (spec §9 open question).
func (s *Subscription) ToJSON() JSON {
	return JSON{
		Endpoint:       s.endpoint,
		ExpirationTime: nil,
		Keys: Keys{
			Auth:   s.AuthKey(),
			P256dh: s.P256dhKey(),
		},
	}
}

// AuthKey returns the base64url-encoded auth secret (spec §4.4
// get_key("auth")).
func (s *Subscription) AuthKey() string {
	return codec.Base64URLEncode(s.auth)
}

// P256dhKey returns the base64url-encoded uncompressed public key
// (spec §4.4 get_key("p256dh")).
func (s *Subscription) P256dhKey() string {
	return codec.Base64URLEncode(s.keys.PublicKeyBytes())
}

// P256dhBuffer returns the raw uncompressed public key bytes, for
// encryption helpers in tests (spec §4.4 internal get_key("p256dhBuffer")).
func (s *Subscription) P256dhBuffer() []byte {
	return s.keys.PublicKeyBytes()
}

// Events returns the event manager this subscription dispatches
// through. A mediator re-registering this subscription's
// applicationServerKey after a UAID rotation passes this forward so the
// replacement subscription created by [Create] dispatches
// pushsubscriptionchange on the same manager this one's listeners are
// already registered on (spec §4.4, §4.9.1).
func (s *Subscription) Events() *events.Manager {
	return s.events
}
