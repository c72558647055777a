package realtime

import (
	"encoding/json"
)

// Electrum protocol methods used on the live channel.
const (
	MethodSubscribe   = "blockchain.address.subscribe"
	MethodUnsubscribe = "blockchain.address.unsubscribe"
	MethodPing        = "server.ping"
)

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// message covers both responses and server-initiated notifications.
type message struct {
	ID     *uint64           `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  json.RawMessage   `json:"error,omitempty"`
}

// notifiedAddress extracts the address from an address status notification.
// The status hash that follows it is not interpreted.
func notifiedAddress(data []byte) (string, bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	if msg.Method != MethodSubscribe || len(msg.Params) == 0 {
		return "", false
	}
	var addr string
	if err := json.Unmarshal(msg.Params[0], &addr); err != nil || addr == "" {
		return "", false
	}
	return addr, true
}
