// Package sender implements the client→server frame builders spec §4.6
// describes: each sender exposes a Build method that assembles a wire
// frame from its dependencies, coordinating with a handler where the
// protocol requires it (register/unregister bookkeeping).
//
// Grounded on internal/mqtt/publisher.go's build-and-send frame pattern
// generalized from "one frame shape" to one builder type per message.
package sender

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

// UAIDSource exposes the manager's current UAID so RegisterSender can
// refuse to build a frame before hello has completed (spec §4.6).
type UAIDSource interface {
	UAID() (uaid string, ok bool)
}

// RegisterExpecter is the slice of RegisterHandler a RegisterSender
// needs: record that a channel-id is awaiting a register reply (spec
// §4.6 "informs the register handler via expect_register").
type RegisterExpecter interface {
	ExpectRegister(channelID string, options subscription.Options, eventManager *events.Manager)
}

// UnregisterExpecter is the slice of UnregisterHandler an
// UnregisterSender needs (spec §4.6 "informs the unregister handler
// via expect_unregister").
type UnregisterExpecter interface {
	ExpectUnregister(channelID string)
}

// HelloSender builds the client hello (spec §4.6). It is stateless: the
// manager passes its current uaid and channel-ids directly.
type HelloSender struct{}

func NewHelloSender() *HelloSender { return &HelloSender{} }

func (s *HelloSender) Build(uaid string, channelIDs []string) protocol.HelloFrame {
	return protocol.NewHelloFrame(uaid, channelIDs)
}

// RegisterSender builds a register frame, minting a fresh channel-id
// and telling the register handler to expect the reply (spec §4.6).
type RegisterSender struct {
	uaid     UAIDSource
	handler  RegisterExpecter
	newChID  func() string
}

func NewRegisterSender(uaid UAIDSource, handler RegisterExpecter) *RegisterSender {
	return &RegisterSender{uaid: uaid, handler: handler, newChID: uuid.NewString}
}

// Build generates a new channel-id, informs the register handler it
// should expect a reply for it, and returns the frame to send.
func (s *RegisterSender) Build(options subscription.Options, eventManager *events.Manager) (protocol.RegisterFrame, error) {
	if _, ok := s.uaid.UAID(); !ok {
		return protocol.RegisterFrame{}, protocol.ErrHelloNotCompleted
	}
	if options.ApplicationServerKey == "" {
		return protocol.RegisterFrame{}, protocol.ErrMissingApplicationServerKey
	}

	channelID := s.newChID()
	s.handler.ExpectRegister(channelID, options, eventManager)
	return protocol.NewRegisterFrame(channelID, options.ApplicationServerKey), nil
}

// UnregisterSender builds an unregister frame, telling the unregister
// handler to expect the reply (spec §4.6).
type UnregisterSender struct {
	handler UnregisterExpecter
}

func NewUnregisterSender(handler UnregisterExpecter) *UnregisterSender {
	return &UnregisterSender{handler: handler}
}

func (s *UnregisterSender) Build(channelID string, code protocol.UnregisterCode) protocol.UnregisterFrame {
	s.handler.ExpectUnregister(channelID)
	return protocol.NewUnregisterFrame(channelID, code)
}

// AckSender builds an ack batch frame. Acks are internal: the mediator
// has no generic by-type sender lookup and calls Build directly from its
// ack-drain timer.
type AckSender struct{}

func NewAckSender() *AckSender { return &AckSender{} }

func (s *AckSender) Build(updates []protocol.AckUpdate) protocol.AckFrame {
	return protocol.NewAckFrame(updates)
}

// NackSender is reserved (spec §4.6): nothing in this engine sends a
// nack frame today, but the builder exists so the wire shape is
// complete.
type NackSender struct{}

func NewNackSender() *NackSender { return &NackSender{} }

func (s *NackSender) Build(channelID, version string, code protocol.NackCode) protocol.NackFrame {
	return protocol.NackFrame{MessageType: protocol.MessageNack, ChannelID: channelID, Version: version, Code: code}
}

// BroadcastSubscribeSender is reserved (spec §4.6).
type BroadcastSubscribeSender struct{}

func NewBroadcastSubscribeSender() *BroadcastSubscribeSender { return &BroadcastSubscribeSender{} }

func (s *BroadcastSubscribeSender) Build(broadcasts map[string]string) protocol.BroadcastSubscribeFrame {
	return protocol.BroadcastSubscribeFrame{MessageType: protocol.MessageBroadcastSubscribe, Broadcasts: broadcasts}
}

// minPingInterval is the minimum spacing the spec requires between two
// pings this engine initiates (spec §4.6, supplemented by §4 of
// SPEC_FULL.md).
const minPingInterval = 30 * time.Minute

// PingSender builds a ping frame, refusing to build one more often
// than once every 30 minutes (spec §4.6). A server-initiated hello
// exchange also counts as a ping via [PingSender.JustPinged], called by
// HelloHandler.
type PingSender struct {
	now func() time.Time

	mu       sync.Mutex
	lastPing time.Time
	hasPing  bool
}

func NewPingSender() *PingSender {
	return &PingSender{now: time.Now}
}

// Build returns a ping frame, or [protocol.ErrPingTooSoon] if less than
// 30 minutes have passed since the last one.
func (s *PingSender) Build() (protocol.PingFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.hasPing && now.Sub(s.lastPing) < minPingInterval {
		return protocol.PingFrame{}, protocol.ErrPingTooSoon
	}
	s.lastPing = now
	s.hasPing = true
	return protocol.NewPingFrame(), nil
}

// JustPinged records now as the time of the most recent ping without
// building a frame, for the case where a server-initiated exchange
// (e.g. hello) counts as satisfying the spacing requirement (spec
// §4.7 HelloHandler).
func (s *PingSender) JustPinged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPing = s.now()
	s.hasPing = true
}

// NextAllowed returns the time at which Build will next succeed,
// assuming no call to JustPinged in between. Before any ping has been
// recorded it returns the zero time (Build is allowed immediately).
func (s *PingSender) NextAllowed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPing {
		return time.Time{}
	}
	return s.lastPing.Add(minPingInterval)
}
