package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/orchardhq/orchard/ident"
)

// wireMessage is the JSON envelope exchanged over the websocket transport.
type wireMessage struct {
	Sender    ident.AgentID       `json:"sender"`
	Recipient ident.AgentID       `json:"recipient"`
	Priority  ident.EventPriority `json:"priority"`
	Payload   json.RawMessage     `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeHTTP upgrades an inbound connection and forwards every decoded
// message to h.Send, enabling cross-process a2a delivery for recipients
// registered with this Hub. Used when agents run across more than one
// process and in-process delivery alone cannot reach the recipient.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.Send(msg.Sender, msg.Recipient, msg.Payload, msg.Priority)
	}
}

// DialAndSend opens a client connection to a remote orchard process's a2a
// endpoint and sends a single message.
func DialAndSend(url string, sender, recipient ident.AgentID, payload json.RawMessage, priority ident.EventPriority) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.WriteJSON(wireMessage{Sender: sender, Recipient: recipient, Priority: priority, Payload: payload})
}
