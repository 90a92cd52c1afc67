package models

import "time"

// Protocol modes negotiated on the websocket handshake.
const (
	ModeText = "text"
	ModeJSON = "json"
)

// Exchange is one received message and the reply written for it.
type Exchange struct {
	ExchangeID   string    `json:"exchange_id" bson:"exchange_id"`
	ConnectionID string    `json:"connection_id" bson:"connection_id"`
	Mode         string    `json:"mode" bson:"mode"`
	Received     string    `json:"received" bson:"received"`
	Reply        string    `json:"reply" bson:"reply"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// Envelope is the frame shape used by the echo.json subprotocol.
type Envelope struct {
	MessageID string    `json:"message_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEnvelope struct {
	Error string `json:"error"`
}
