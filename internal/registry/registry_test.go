package registry

import (
	"errors"
	"testing"

	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.New(storage.NewMemoryBackend())
}

func TestNewEmptyRegistry(t *testing.T) {
	r, err := New(newStore(t), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.ChannelIDs(); len(got) != 0 {
		t.Errorf("ChannelIDs() = %v, want empty", got)
	}
}

func TestAddPersistsChannelIDs(t *testing.T) {
	store := newStore(t)
	r, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	opts := subscription.Options{ApplicationServerKey: "key-1"}
	if _, err := r.Add("chan-1", "https://example.com/push/chan-1", opts, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ids, ok, err := storage.Read[[]string](store, "channelIDs")
	if err != nil {
		t.Fatalf("read channelIDs: %v", err)
	}
	if !ok || len(ids) != 1 || ids[0] != "chan-1" {
		t.Errorf("persisted channelIDs = %v, ok=%v, want [chan-1]", ids, ok)
	}
}

func TestGetReturnsAddedSubscription(t *testing.T) {
	r, err := New(newStore(t), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	added, err := r.Add("chan-1", "https://example.com/push/chan-1", opts, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := r.Get("chan-1")
	if got != added {
		t.Error("Get did not return the subscription Add created")
	}
	if r.Get("missing") != nil {
		t.Error("Get on unknown channel-id should return nil")
	}
}

func TestGetByApplicationServerKey(t *testing.T) {
	r, err := New(newStore(t), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	added, err := r.Add("chan-1", "https://example.com/push/chan-1", opts, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := r.GetByApplicationServerKey("key-1")
	if got != added {
		t.Error("GetByApplicationServerKey did not find the matching subscription")
	}
	if r.GetByApplicationServerKey("no-such-key") != nil {
		t.Error("GetByApplicationServerKey should return nil for no match")
	}
}

func TestRemoveDestroysAndForgets(t *testing.T) {
	store := newStore(t)
	r, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	if _, err := r.Add("chan-1", "https://example.com/push/chan-1", opts, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Remove("chan-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Get("chan-1") != nil {
		t.Error("expected Get to return nil after Remove")
	}

	ids, _, err := storage.Read[[]string](store, "channelIDs")
	if err != nil {
		t.Fatalf("read channelIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("persisted channelIDs = %v, want empty after Remove", ids)
	}
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	r, err := New(newStore(t), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Remove("does-not-exist"); err != nil {
		t.Fatalf("Remove(unknown) returned error: %v", err)
	}
}

func TestNewRecoversPersistedSubscriptions(t *testing.T) {
	store := newStore(t)
	first, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	if _, err := first.Add("chan-1", "https://example.com/push/chan-1", opts, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	second, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if got := second.Get("chan-1"); got == nil {
		t.Fatal("expected reloaded registry to recover chan-1")
	} else if got.Endpoint() != "https://example.com/push/chan-1" {
		t.Errorf("recovered endpoint = %q", got.Endpoint())
	}
}

func TestNewSkipsCorruptSubscriptionEntries(t *testing.T) {
	store := newStore(t)
	if err := storage.Write(store, "channelIDs", []string{"ghost-channel"}); err != nil {
		t.Fatalf("seed channelIDs: %v", err)
	}

	r, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New should not fail on an unrecoverable channel: %v", err)
	}
	if r.Get("ghost-channel") != nil {
		t.Error("expected the corrupt entry to be skipped, not recovered")
	}
}

type fakeRegisterRequester struct {
	sent      []string
	responses map[string]*subscription.Subscription
	err       error
}

func (f *fakeRegisterRequester) SendRegister(applicationServerKey string) error {
	f.sent = append(f.sent, applicationServerKey)
	return f.err
}

func (f *fakeRegisterRequester) AwaitRegister(applicationServerKey string) (*subscription.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.responses[applicationServerKey]
	if !ok {
		return nil, errors.New("no queued response")
	}
	return sub, nil
}

func TestReInitAllReplacesSubscriptions(t *testing.T) {
	store := newStore(t)
	r, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	if _, err := r.Add("chan-old", "https://example.com/push/chan-old", opts, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	replacement, err := subscription.Create("chan-new", store, "https://example.com/push/chan-new", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create replacement: %v", err)
	}

	fake := &fakeRegisterRequester{responses: map[string]*subscription.Subscription{"key-1": replacement}}
	if err := r.ReInitAll(fake); err != nil {
		t.Fatalf("ReInitAll: %v", err)
	}

	if r.Get("chan-old") != nil {
		t.Error("expected original subscription to be forgotten after re-init")
	}
	if r.Get("chan-new") != replacement {
		t.Error("expected replacement subscription to be registered under its new channel-id")
	}
	if len(fake.sent) != 1 || fake.sent[0] != "key-1" {
		t.Errorf("SendRegister calls = %v, want [key-1]", fake.sent)
	}
}

func TestReInitAllSkipsFailuresAndKeepsOriginal(t *testing.T) {
	store := newStore(t)
	r, err := New(store, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opts := subscription.Options{ApplicationServerKey: "key-1"}
	if _, err := r.Add("chan-old", "https://example.com/push/chan-old", opts, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fake := &fakeRegisterRequester{err: errors.New("server unreachable")}
	if err := r.ReInitAll(fake); err != nil {
		t.Fatalf("ReInitAll should not propagate a per-subscription failure: %v", err)
	}
	if r.Get("chan-old") == nil {
		t.Error("expected original subscription to survive a failed re-init")
	}
}
