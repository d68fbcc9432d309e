package mediator

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/registry"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

type fakeManager struct {
	mu      sync.Mutex
	uaid    string
	hasUAID bool
	oldUAID string
	rotated bool
	calls   []string
}

func (f *fakeManager) UAID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uaid, f.hasUAID
}

func (f *fakeManager) CompleteHello(newUAID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, newUAID)
	old := f.oldUAID
	f.uaid = newUAID
	f.hasUAID = true
	return old, f.rotated
}

type fakeSocket struct {
	mu    sync.Mutex
	sent  []any
	errOn error
}

func (f *fakeSocket) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errOn != nil {
		return f.errOn
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSocket) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store := storage.New(storage.NewMemoryBackend())
	r, err := registry.New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return r
}

func TestSendHelloFailsWithoutSocket(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), time.Hour)
	defer m.Destroy()

	if err := m.SendHello("uaid-1", nil); !errors.Is(err, protocol.ErrNoSocket) {
		t.Fatalf("err = %v, want ErrNoSocket", err)
	}
}

func TestSendHelloWritesFrame(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), time.Hour)
	defer m.Destroy()

	socket := &fakeSocket{}
	m.SetSocket(socket)

	if err := m.SendHello("uaid-1", []string{"chan-1"}); err != nil {
		t.Fatalf("SendHello: %v", err)
	}
	sent := socket.snapshot()
	if len(sent) != 1 {
		t.Fatalf("sent = %v, want 1 frame", sent)
	}
	frame, ok := sent[0].(protocol.HelloFrame)
	if !ok || frame.UAID != "uaid-1" {
		t.Errorf("sent frame = %+v", sent[0])
	}
}

func TestSendRegisterFrameRequiresHelloCompleted(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{}
	m := New(reg, manager, logging.Discard(), time.Hour)
	defer m.Destroy()
	m.SetSocket(&fakeSocket{})

	err := m.SendRegisterFrame(subscription.Options{ApplicationServerKey: "key-1"}, nil)
	if !errors.Is(err, protocol.ErrHelloNotCompleted) {
		t.Fatalf("err = %v, want ErrHelloNotCompleted", err)
	}
}

func TestHandleRoutesToRegisterHandler(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), time.Hour)
	defer m.Destroy()
	m.SetSocket(&fakeSocket{})

	opts := subscription.Options{ApplicationServerKey: "key-1"}
	frame, err := m.registerSender.Build(opts, nil)
	if err != nil {
		t.Fatalf("Build register frame: %v", err)
	}

	resultCh := make(chan *subscription.Subscription, 1)
	go func() {
		sub, _ := m.AwaitRegister("key-1")
		resultCh <- sub
	}()

	raw, err := json.Marshal(protocol.ServerRegisterFrame{
		MessageType:  protocol.MessageRegister,
		Status:       200,
		ChannelID:    frame.ChannelID,
		PushEndpoint: "https://example.com/push/" + frame.ChannelID,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := m.Handle(raw); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	select {
	case sub := <-resultCh:
		if sub == nil || sub.ChannelID() != frame.ChannelID {
			t.Errorf("resolved subscription = %+v", sub)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitRegister did not resolve")
	}
}

func TestHandleUnknownMessageTypeDropsSilently(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), time.Hour)
	defer m.Destroy()

	raw, _ := json.Marshal(map[string]string{"messageType": "something_unrecognized"})
	if err := m.Handle(raw); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestAckBatchesOnTimer(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), 20*time.Millisecond)
	defer m.Destroy()

	socket := &fakeSocket{}
	m.SetSocket(socket)

	m.Ack(protocol.AckUpdate{ChannelID: "chan-1", Version: "1", Code: protocol.AckSuccess})
	m.Ack(protocol.AckUpdate{ChannelID: "chan-2", Version: "2", Code: protocol.AckSuccess})

	deadline := time.After(time.Second)
	for {
		if len(socket.snapshot()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("ack batch was never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sent := socket.snapshot()
	frame, ok := sent[0].(protocol.AckFrame)
	if !ok || len(frame.Updates) != 2 {
		t.Errorf("sent ack frame = %+v", sent[0])
	}
}

func TestAckDoesNotSendWithoutOpenSocket(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), 10*time.Millisecond)
	defer m.Destroy()

	m.Ack(protocol.AckUpdate{ChannelID: "chan-1", Version: "1", Code: protocol.AckSuccess})
	time.Sleep(50 * time.Millisecond)

	m.mu.Lock()
	queued := len(m.queue)
	m.mu.Unlock()
	if queued == 0 {
		t.Error("expected the ack to remain queued with no socket open")
	}
}

func TestDestroyStopsTimer(t *testing.T) {
	reg := newTestRegistry(t)
	manager := &fakeManager{uaid: "uaid-1", hasUAID: true}
	m := New(reg, manager, logging.Discard(), 10*time.Millisecond)
	socket := &fakeSocket{}
	m.SetSocket(socket)

	m.Destroy()
	m.Ack(protocol.AckUpdate{ChannelID: "chan-1", Version: "1", Code: protocol.AckSuccess})
	time.Sleep(50 * time.Millisecond)

	if len(socket.snapshot()) != 0 {
		t.Error("expected no ack frame to be sent after Destroy")
	}
}
