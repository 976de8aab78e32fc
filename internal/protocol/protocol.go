package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Outbound command types sent to the bridge through the relay.
const (
	TypeGetStatus        = "get_status"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeRequestSeal      = "requestSeal"
	TypeVerifyPin        = "verifyPin"
	TypeChangePin        = "changePin"
	TypeUnlockWithPuk    = "unlockWithPuk"
	TypeGetRetriesStatus = "getRetriesStatus"
	TypeEnableDemo       = "enableDemo"
	TypeDisableDemo      = "disableDemo"
)

// Inbound message types received from the bridge through the relay.
const (
	TypeStatus                = "status"
	TypeBridgeStatus          = "bridge_status"
	TypeConnectionStatus      = "connection_status"
	TypeSealResponse          = "sealResponse"
	TypePinVerifyResponse     = "pinVerifyResponse"
	TypePinChangeResponse     = "pinChangeResponse"
	TypePukUnlockResponse     = "pukUnlockResponse"
	TypeRetriesStatusResponse = "retriesStatusResponse"
	TypeError                 = "error"
)

// Message is the wire envelope for both directions of the bridge channel.
type Message struct {
	Type  string          `json:"type"`            // Message type
	ID    string          `json:"id,omitempty"`    // Request ID for log correlation
	Data  json.RawMessage `json:"data,omitempty"`  // Message payload
	Error string          `json:"error,omitempty"` // Error message if any
}

// NewMessage builds an envelope with a fresh request ID. A nil payload
// produces an envelope with no data field.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{
		Type: msgType,
		ID:   uuid.NewString(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Data = data
	}
	return msg, nil
}

// StatusPayload is a full bridge status report. It doubles as the body of
// live "status" messages and of the one-shot bootstrap endpoint. Older
// bridge builds spell some fields differently ("connected" for
// "bridgeConnected", "readerConnected" for "readerDetected"), so both
// spellings are kept as pointers and resolved by the status reducers.
type StatusPayload struct {
	BridgeConnected  *bool  `json:"bridgeConnected,omitempty"`
	Connected        *bool  `json:"connected,omitempty"`
	ReaderDetected   *bool  `json:"readerDetected,omitempty"`
	ReaderConnected  *bool  `json:"readerConnected,omitempty"`
	CardInserted     *bool  `json:"cardInserted,omitempty"`
	ReaderName       string `json:"readerName,omitempty"`
	CardATR          string `json:"cardAtr,omitempty"`
	CardSerial       string `json:"cardSerial,omitempty"`
	CardCounter      *int64 `json:"cardCounter,omitempty"`
	CardBalance      *int64 `json:"cardBalance,omitempty"`
	CardKeyID        string `json:"cardKeyId,omitempty"`
	CardType         string `json:"cardType,omitempty"`
	PinRetriesLeft   *int   `json:"pinRetriesLeft,omitempty"`
	PukRetriesLeft   *int   `json:"pukRetriesLeft,omitempty"`
	CanEmitRealSeals *bool  `json:"canEmitRealSeals,omitempty"`
	DemoMode         *bool  `json:"demoMode,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BridgeLinkPayload is the body of "bridge_status" / "connection_status"
// messages: the relay reporting whether the desktop bridge is attached.
type BridgeLinkPayload struct {
	Connected       *bool `json:"connected,omitempty"`
	BridgeConnected *bool `json:"bridgeConnected,omitempty"`
}

// Attached resolves the two field spellings, preferring bridgeConnected.
func (p BridgeLinkPayload) Attached() bool {
	if p.BridgeConnected != nil {
		return *p.BridgeConnected
	}
	if p.Connected != nil {
		return *p.Connected
	}
	return false
}

// SealRequest asks the card to emit one fiscal seal. Exactly one of
// TicketID or Price is set depending on the sale flow.
type SealRequest struct {
	TicketID  string `json:"ticketId,omitempty"`
	Price     *int64 `json:"price,omitempty"` // cents
	Timestamp string `json:"timestamp"`
}

// Seal is the card-produced fiscal stamp. Older bridges report the
// authentication code as "mac", newer ones as "sealCode".
type Seal struct {
	SealCode     string `json:"sealCode,omitempty"`
	MAC          string `json:"mac,omitempty"`
	SealNumber   int64  `json:"sealNumber"`
	SerialNumber string `json:"serialNumber"`
	Counter      int64  `json:"counter"`
	DateTime     string `json:"dateTime"`
}

// Code returns the seal authentication code under either spelling.
func (s Seal) Code() string {
	if s.SealCode != "" {
		return s.SealCode
	}
	return s.MAC
}

// SealResponse is the reply to a requestSeal command.
type SealResponse struct {
	Success bool   `json:"success"`
	Seal    *Seal  `json:"seal,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PinVerifyRequest carries the PIN to verify.
type PinVerifyRequest struct {
	Pin string `json:"pin"`
}

// PinVerifyResponse is the reply to a verifyPin command. RetriesLeft is
// reported on both success and failure.
type PinVerifyResponse struct {
	Success     bool   `json:"success"`
	RetriesLeft *int   `json:"retriesLeft,omitempty"`
	Blocked     bool   `json:"blocked"`
	Error       string `json:"error,omitempty"`
}

// PinChangeRequest carries the old and new PIN.
type PinChangeRequest struct {
	OldPin string `json:"oldPin"`
	NewPin string `json:"newPin"`
}

// PinChangeResponse is the reply to a changePin command.
type PinChangeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PukUnlockRequest carries the PUK and the replacement PIN.
type PukUnlockRequest struct {
	Puk    string `json:"puk"`
	NewPin string `json:"newPin"`
}

// PukUnlockResponse is the reply to an unlockWithPuk command. The unlock
// attempt consumes a PUK try even on failure, so PukRetriesLeft may be set
// either way.
type PukUnlockResponse struct {
	Success        bool   `json:"success"`
	PukRetriesLeft *int   `json:"pukRetriesLeft,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RetriesStatusResponse is the reply to a getRetriesStatus command.
type RetriesStatusResponse struct {
	PinRetries *int `json:"pinRetries,omitempty"`
	PukRetries *int `json:"pukRetries,omitempty"`
}
