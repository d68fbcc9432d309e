package subscription

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cobalt-oss/autopush-client/internal/codec"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/protocol"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/webpushcrypto"
)

func newBase(t *testing.T) *storage.Store {
	t.Helper()
	return storage.New(storage.NewMemoryBackend())
}

func TestCreateRequiresApplicationServerKey(t *testing.T) {
	base := newBase(t)
	_, err := Create("chan-1", base, "https://example.com/push/chan-1", Options{}, nil, logging.Discard(), nil)
	if !errors.Is(err, protocol.ErrMissingApplicationServerKey) {
		t.Fatalf("err = %v, want ErrMissingApplicationServerKey", err)
	}
}

func TestCreateRequiresValidEndpoint(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key"}
	if _, err := Create("chan-1", base, "not a url", opts, nil, logging.Discard(), nil); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}

func TestCreateThenRecoverRoundTrip(t *testing.T) {
	base := newBase(t)
	opts := Options{UserVisibleOnly: true, ApplicationServerKey: "key-1"}
	endpoint := "https://example.com/push/chan-1"

	created, err := Create("chan-1", base, endpoint, opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	recovered, err := Recover("chan-1", base, nil, logging.Discard())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if recovered.Endpoint() != endpoint {
		t.Errorf("Endpoint() = %q, want %q", recovered.Endpoint(), endpoint)
	}
	if recovered.Options() != opts {
		t.Errorf("Options() = %+v, want %+v", recovered.Options(), opts)
	}
	if recovered.AuthKey() != created.AuthKey() {
		t.Errorf("AuthKey mismatch after recover")
	}
	if recovered.P256dhKey() != created.P256dhKey() {
		t.Errorf("P256dhKey mismatch after recover")
	}
}

func TestRecoverMissingFails(t *testing.T) {
	base := newBase(t)
	if _, err := Recover("does-not-exist", base, nil, logging.Discard()); err == nil {
		t.Fatal("expected error recovering an unknown channel")
	}
}

func TestToJSONShape(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	j := s.ToJSON()
	if j.ExpirationTime != nil {
		t.Error("expected ExpirationTime to always be nil")
	}
	if j.Keys.Auth != s.AuthKey() || j.Keys.P256dh != s.P256dhKey() {
		t.Error("ToJSON keys do not match AuthKey/P256dhKey")
	}

	b, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(b, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round["expirationTime"] != nil {
		t.Errorf("expirationTime in JSON = %v, want null", round["expirationTime"])
	}
}

func TestHandleNotificationNoData(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got []any
	called := false
	s.AddEventListener("notification", func(args ...any) {
		called = true
		got = args
	})

	if err := s.HandleNotification(protocol.NotificationFrame{ChannelID: "chan-1", Version: "1"}); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if !called {
		t.Fatal("expected notification listener to fire")
	}
	if len(got) != 1 || got[0] != nil {
		t.Errorf("got %v, want [nil]", got)
	}
}

func TestHandleNotificationWrongEncodingIsDecryptFail(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := "AAAA"
	err = s.HandleNotification(protocol.NotificationFrame{
		ChannelID: "chan-1",
		Data:      &data,
		Headers:   map[string]string{"Content-Encoding": "aesgcm"},
	})
	if protocol.AckCodeOf(err) != protocol.AckDecryptFail {
		t.Fatalf("AckCodeOf(err) = %v, want AckDecryptFail", protocol.AckCodeOf(err))
	}
}

func TestHandleNotificationEncryptedRoundTrip(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sender, err := webpushcrypto.GenerateECKeys()
	if err != nil {
		t.Fatalf("GenerateECKeys: %v", err)
	}
	salt, err := webpushcrypto.AuthSecret() // 16 bytes, reused as a salt for this test
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	auth, err := base64DecodeAuth(s)
	if err != nil {
		t.Fatalf("decode auth: %v", err)
	}

	record, err := webpushcrypto.Encrypt(s.P256dhBuffer(), auth, sender, salt, []byte("hello push"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var got string
	data := encodeData(record)
	s.AddEventListener("notification", func(args ...any) {
		if len(args) == 1 {
			if str, ok := args[0].(string); ok {
				got = str
			}
		}
	})

	err = s.HandleNotification(protocol.NotificationFrame{
		ChannelID: "chan-1",
		Data:      &data,
		Headers:   map[string]string{"Content-Encoding": "aes128gcm"},
	})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if got != "hello push" {
		t.Errorf("got %q, want %q", got, "hello push")
	}
}

func TestHandleNotificationGarbageCiphertextIsDecryptFail(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := encodeData([]byte("This should have been encrypted, but this string is too short to even parse"))
	err = s.HandleNotification(protocol.NotificationFrame{
		ChannelID: "chan-1",
		Data:      &data,
		Headers:   map[string]string{"encoding": "aes128gcm"},
	})
	if protocol.AckCodeOf(err) != protocol.AckDecryptFail {
		t.Fatalf("AckCodeOf(err) = %v, want AckDecryptFail", protocol.AckCodeOf(err))
	}
}

func TestDestroyRemovesPersistedState(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	s, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := Recover("chan-1", base, nil, logging.Discard()); err == nil {
		t.Fatal("expected Recover to fail after Destroy")
	}
}

func TestCreateReInitDispatchesPushSubscriptionChangeOnPassedManager(t *testing.T) {
	base := newBase(t)
	opts := Options{ApplicationServerKey: "key-1"}
	original, err := Create("chan-1", base, "https://example.com/push/chan-1", opts, nil, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var changed bool
	original.AddEventListener("pushsubscriptionchange", func(args ...any) { changed = true })

	_, err = Create("chan-2", base, "https://example.com/push/chan-2", opts, nil, logging.Discard(), original.events)
	if err != nil {
		t.Fatalf("Create (re-init): %v", err)
	}
	if !changed {
		t.Error("expected pushsubscriptionchange to fire on the original's event manager")
	}
}

func base64DecodeAuth(s *Subscription) ([]byte, error) {
	return codec.Base64URLDecode(s.AuthKey())
}

func encodeData(b []byte) string {
	return codec.Base64URLEncode(b)
}
