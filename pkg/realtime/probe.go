package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Probe opens a short-lived channel to url, sends one ping and waits for its
// reply. It returns the round trip including the handshake.
func Probe(ctx context.Context, url string, dialer Dialer) (time.Duration, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	start := time.Now()
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(request{JSONRPC: "2.0", ID: 1, Method: MethodPing, Params: []interface{}{}}); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return 0, fmt.Errorf("awaiting pong: %w", err)
		}
		if msg.ID != nil && *msg.ID == 1 {
			return time.Since(start), nil
		}
	}
}
