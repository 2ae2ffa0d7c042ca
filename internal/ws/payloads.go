package ws

import (
	"fairwager/internal/domain"
	"fairwager/internal/round"
)

// Request is a client → server message. ID is echoed on the reply.
type Request struct {
	Type  string              `json:"type"`
	ID    string              `json:"id,omitempty"`
	Nonce uint64              `json:"nonce,omitempty"`
	Cell  int                 `json:"cell,omitempty"`
	Place *round.PlaceRequest `json:"place,omitempty"`
}

// Message is a server → client message
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type ReadyPayload struct {
	Connection string `json:"connection"`
	Player     string `json:"player"`
}

type StatePayload struct {
	Rounds []*domain.Round `json:"rounds"`
}
