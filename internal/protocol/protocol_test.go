package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	data := []byte(`{"messageType":"notification","channelID":"abc","version":"1","ttl":60}`)
	env, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.MessageType != MessageNotification {
		t.Errorf("MessageType = %q, want %q", env.MessageType, MessageNotification)
	}

	var n NotificationFrame
	if err := json.Unmarshal(env.Raw, &n); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if n.ChannelID != "abc" || n.Version != "1" || n.TTL != 60 {
		t.Errorf("got %+v", n)
	}
	if n.HasData() {
		t.Error("expected HasData() false for a keepalive notification")
	}
}

func TestParseEnvelopeInvalidJSON(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNotificationHasData(t *testing.T) {
	payload := "c29tZS1kYXRh"
	n := NotificationFrame{ChannelID: "abc", Data: &payload}
	if !n.HasData() {
		t.Error("expected HasData() true when Data is set")
	}
}

func TestNotificationEncodingChecksBothCasing(t *testing.T) {
	cases := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"Content-Encoding": "aes128gcm"}, "aes128gcm"},
		{map[string]string{"encoding": "aes128gcm"}, "aes128gcm"},
		{nil, ""},
		{map[string]string{}, ""},
	}
	for _, c := range cases {
		n := NotificationFrame{Headers: c.headers}
		if got := n.Encoding(); got != c.want {
			t.Errorf("Encoding() with %v = %q, want %q", c.headers, got, c.want)
		}
	}
}

func TestHelloFrameJSON(t *testing.T) {
	f := NewHelloFrame("", nil)
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"messageType":"hello","uaid":"","channelIDs":[],"use_webpush":true}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestRegisterFrameJSON(t *testing.T) {
	f := NewRegisterFrame("chan-1", "key-1")
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"messageType":"register","channelID":"chan-1","key":"key-1"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestAckCodeString(t *testing.T) {
	cases := map[AckCode]string{
		AckSuccess:     "SUCCESS",
		AckDecryptFail: "DECRYPT_FAIL",
		AckOtherFail:   "OTHER_FAIL",
		AckCode(999):   "AckCode(999)",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}

func TestAckCodeOf(t *testing.T) {
	if got := AckCodeOf(nil); got != AckSuccess {
		t.Errorf("AckCodeOf(nil) = %v, want AckSuccess", got)
	}
	if got := AckCodeOf(errors.New("boom")); got != AckOtherFail {
		t.Errorf("AckCodeOf(generic error) = %v, want AckOtherFail", got)
	}
	coded := NewCodedError(AckDecryptFail, errors.New("bad tag"))
	if got := AckCodeOf(coded); got != AckDecryptFail {
		t.Errorf("AckCodeOf(coded) = %v, want AckDecryptFail", got)
	}
	wrapped := fmt.Errorf("wrap: %w", coded)
	if got := AckCodeOf(wrapped); got != AckDecryptFail {
		t.Errorf("AckCodeOf(wrapped coded) = %v, want AckDecryptFail", got)
	}
}

func TestCodedErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	coded := NewCodedError(AckOtherFail, inner)
	if !errors.Is(coded, inner) {
		t.Error("expected errors.Is to see through CodedError.Unwrap")
	}
}
