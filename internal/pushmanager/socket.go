package pushmanager

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cobalt-oss/autopush-client/internal/buildinfo"
)

// gorillaDialer is the production [Dialer], wrapping
// github.com/gorilla/websocket the way internal/homeassistant/websocket.go
// wraps it for the Home Assistant connection.
type gorillaDialer struct {
	dialer *websocket.Dialer
}

func newGorillaDialer() *gorillaDialer {
	return &gorillaDialer{dialer: websocket.DefaultDialer}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Socket, error) {
	header := http.Header{"User-Agent": []string{buildinfo.UserAgent()}}
	conn, _, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &gorillaSocket{conn: conn}, nil
}

// gorillaSocket adapts a *websocket.Conn to [Socket]. Writes and reads
// are never called concurrently by more than one goroutine each
// (mediator serializes writes behind its own mutex; only readLoop
// reads), matching gorilla/websocket's single-reader/single-writer
// requirement.
type gorillaSocket struct {
	conn *websocket.Conn
}

func (s *gorillaSocket) WriteJSON(v any) error {
	return s.conn.WriteJSON(v)
}

func (s *gorillaSocket) ReadMessage() ([]byte, error) {
	_, raw, err := s.conn.ReadMessage()
	return raw, err
}

func (s *gorillaSocket) Close() error {
	return s.conn.Close()
}
