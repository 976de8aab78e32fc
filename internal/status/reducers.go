package status

import (
	"github.com/biglietto/sealbridge/internal/protocol"
)

// DefaultMaxPinRetries is the retry counter a SIAE card resets to after a
// successful PUK unlock.
const DefaultMaxPinRetries = 3

// User-facing blocking conditions, in the precedence order applied by
// finalize. Demo mode suppresses all of them.
const (
	MsgBridgeNotRunning  = "SIAE bridge not running: start the desktop bridge application"
	MsgReaderNotDetected = "smart card reader not detected"
	MsgCardNotInserted   = "SIAE card not inserted"
	MsgRelayReconnecting = "connection to the seal relay lost, retrying"
)

// finalize enforces the snapshot invariants after every reduction: card
// removal clears all PIN state, pinBlocked holds exactly when the retry
// counter is known to be zero, demo mode never emits real seals, and the
// user-facing error follows the fixed precedence
// demo > bridge > reader > card > none.
func finalize(s DeviceStatus) DeviceStatus {
	if !s.CardInserted {
		s.PinVerified = false
		s.PinRetriesLeft = nil
		s.PukRetriesLeft = nil
	}
	s.PinBlocked = s.PinRetriesLeft != nil && *s.PinRetriesLeft == 0
	if s.DemoMode {
		s.CanEmitRealSeals = false
	}
	switch {
	case s.DemoMode:
		s.Error = ""
	case !s.BridgeConnected:
		s.Error = MsgBridgeNotRunning
	case !s.ReaderDetected:
		s.Error = MsgReaderNotDetected
	case !s.CardInserted:
		s.Error = MsgCardNotInserted
	default:
		s.Error = ""
	}
	return s
}

// resolveBool picks the first field the peer actually sent, in priority
// order, falling back to the current value. The priority must not change:
// under partial bridge payloads other orderings change observable status.
func resolveBool(cur bool, candidates ...*bool) bool {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return cur
}

// ApplyStatusPayload merges a full status report into the snapshot. Used for
// both the bootstrap fetch and live "status" messages. Fields the payload
// does not carry keep their current values.
func ApplyStatusPayload(cur DeviceStatus, p protocol.StatusPayload) DeviceStatus {
	next := cur
	next.BridgeConnected = resolveBool(cur.BridgeConnected, p.BridgeConnected, p.Connected)
	next.ReaderDetected = resolveBool(cur.ReaderDetected, p.ReaderDetected, p.ReaderConnected)
	if p.CardInserted != nil {
		next.CardInserted = *p.CardInserted
	}
	if p.ReaderName != "" {
		next.ReaderName = p.ReaderName
	}
	if p.CardATR != "" {
		next.CardATR = p.CardATR
	}
	if p.CardSerial != "" {
		next.CardSerial = p.CardSerial
	}
	if p.CardCounter != nil {
		next.CardCounter = *p.CardCounter
	}
	if p.CardBalance != nil {
		next.CardBalance = *p.CardBalance
	}
	if p.CardKeyID != "" {
		next.CardKeyID = p.CardKeyID
	}
	if p.CardType != "" {
		next.CardType = p.CardType
	}
	if p.PinRetriesLeft != nil {
		next.PinRetriesLeft = clonePtr(p.PinRetriesLeft)
	}
	if p.PukRetriesLeft != nil {
		next.PukRetriesLeft = clonePtr(p.PukRetriesLeft)
	}
	if p.DemoMode != nil {
		next.DemoMode = *p.DemoMode
	}
	if p.CanEmitRealSeals != nil {
		next.CanEmitRealSeals = *p.CanEmitRealSeals
	} else {
		next.CanEmitRealSeals = next.BridgeConnected && next.ReaderDetected && next.CardInserted
	}
	return finalize(next)
}

// ApplyBridgeLink handles bridge_status / connection_status messages. Only
// the bridge-link fields change; a detached bridge also clears reader and
// card presence, since nothing is observing them anymore.
func ApplyBridgeLink(cur DeviceStatus, attached bool) DeviceStatus {
	next := cur
	next.Connected = attached
	next.BridgeConnected = attached
	if !attached {
		next.ReaderDetected = false
		next.CardInserted = false
	}
	next.CanEmitRealSeals = next.BridgeConnected && next.ReaderDetected && next.CardInserted
	return finalize(next)
}

// ApplyRelayUp records that the relay channel opened.
func ApplyRelayUp(cur DeviceStatus) DeviceStatus {
	next := cur
	next.RelayConnected = true
	return finalize(next)
}

// ApplyRelayDown records the loss of the relay channel. The bridge state is
// unknown while disconnected, so the snapshot carries a retry-pending
// message instead of a device diagnosis.
func ApplyRelayDown(cur DeviceStatus) DeviceStatus {
	next := cur
	next.Connected = false
	next.RelayConnected = false
	next = finalize(next)
	if !next.DemoMode {
		next.Error = MsgRelayReconnecting
	}
	return next
}

// ApplyPinVerify folds a verifyPin reply into the snapshot. The attempt
// consumes or reports a retry count whether or not it succeeded.
func ApplyPinVerify(cur DeviceStatus, resp protocol.PinVerifyResponse) DeviceStatus {
	next := cur
	next.PinVerified = resp.Success
	if resp.RetriesLeft != nil {
		next.PinRetriesLeft = clonePtr(resp.RetriesLeft)
	} else if resp.Blocked {
		next.PinRetriesLeft = intPtr(0)
	}
	return finalize(next)
}

// ApplyPinChange folds a changePin reply into the snapshot. A successful
// change implies the card accepted the old PIN, so the session counts as
// verified.
func ApplyPinChange(cur DeviceStatus, resp protocol.PinChangeResponse) DeviceStatus {
	next := cur
	if resp.Success {
		next.PinVerified = true
	}
	return finalize(next)
}

// ApplyPukUnlock folds an unlockWithPuk reply into the snapshot. On success
// the PIN counter resets to its maximum; on failure only the PUK counter is
// updated, since the failed attempt still consumed a try.
func ApplyPukUnlock(cur DeviceStatus, resp protocol.PukUnlockResponse) DeviceStatus {
	next := cur
	if resp.PukRetriesLeft != nil {
		next.PukRetriesLeft = clonePtr(resp.PukRetriesLeft)
	}
	if resp.Success {
		next.PinVerified = true
		next.PinRetriesLeft = intPtr(DefaultMaxPinRetries)
	}
	return finalize(next)
}

// ApplyRetries folds a getRetriesStatus reply into the snapshot. The reply
// is authoritative for both counters; an omitted counter means the bridge
// could not read it.
func ApplyRetries(cur DeviceStatus, resp protocol.RetriesStatusResponse) DeviceStatus {
	next := cur
	next.PinRetriesLeft = clonePtr(resp.PinRetries)
	next.PukRetriesLeft = clonePtr(resp.PukRetries)
	return finalize(next)
}

// ApplyDemoMode toggles the bridge-confirmed simulation state.
func ApplyDemoMode(cur DeviceStatus, enabled bool) DeviceStatus {
	next := cur
	next.DemoMode = enabled
	return finalize(next)
}

// ApplyPinReset discards all locally held PIN state, e.g. when the operator
// session ends.
func ApplyPinReset(cur DeviceStatus) DeviceStatus {
	next := cur
	next.PinVerified = false
	next.PinRetriesLeft = nil
	next.PukRetriesLeft = nil
	return finalize(next)
}
