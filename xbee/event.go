package xbee

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame is a validated frame received from the radio
type Frame struct {
	ID       uuid.UUID `json:"id"`
	Received time.Time `json:"received"`
	// Payload holds the bytes between length field and checksum, starting with the API identifier
	Payload []byte `json:"payload"`
}

func newFrame(payload []byte) Frame {
	return Frame{ID: uuid.New(), Received: time.Now(), Payload: payload}
}

// APIIdentifier returns the frame type or 0 for an empty payload
func (f Frame) APIIdentifier() byte {
	if len(f.Payload) == 0 {
		return 0
	}
	return f.Payload[0]
}

// RemoteATCommandRequest decodes the payload if it holds a remote AT command request
func (f Frame) RemoteATCommandRequest() (RemoteATCommandRequest, bool) {
	r, err := DecodeRemoteATCommandPayload(f.Payload)
	return r, err == nil
}

// MarshalJSON writes the payload as hex string
func (f Frame) MarshalJSON() ([]byte, error) {
	v := struct {
		ID            uuid.UUID `json:"id"`
		Received      time.Time `json:"received"`
		APIIdentifier string    `json:"api_identifier"`
		Payload       string    `json:"payload"`
	}{
		ID:            f.ID,
		Received:      f.Received,
		APIIdentifier: hex.EncodeToString([]byte{f.APIIdentifier()}),
		Payload:       hex.EncodeToString(f.Payload),
	}
	return json.Marshal(v)
}
