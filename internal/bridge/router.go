package bridge

import (
	"encoding/json"

	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/protocol"
	"github.com/biglietto/sealbridge/internal/status"
)

// handleMessage classifies one inbound envelope and dispatches it to the
// status store, to pending-request resolution, or to heartbeat handling.
// raw is the full frame; older bridges inline payload fields in the
// envelope instead of nesting them under data.
func (s *Session) handleMessage(msg protocol.Message, raw []byte) {
	switch msg.Type {
	case protocol.TypeStatus:
		var p protocol.StatusPayload
		if err := json.Unmarshal(payloadBytes(msg, raw), &p); err != nil {
			logging.Warn(logging.CatChannel, "Dropping malformed status payload", map[string]any{
				"error": err.Error(),
			})
			return
		}
		s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
			return status.ApplyStatusPayload(cur, p)
		})

	case protocol.TypeBridgeStatus, protocol.TypeConnectionStatus:
		var p protocol.BridgeLinkPayload
		if err := json.Unmarshal(payloadBytes(msg, raw), &p); err != nil {
			logging.Warn(logging.CatChannel, "Dropping malformed bridge-status payload", map[string]any{
				"error": err.Error(),
			})
			return
		}
		attached := p.Attached()
		s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
			return status.ApplyBridgeLink(cur, attached)
		})

	case protocol.TypePing:
		// Courtesy reply so the bridge can assess our liveness too.
		if pong, err := protocol.NewMessage(protocol.TypePong, nil); err == nil {
			if err := s.send(pong); err != nil {
				logging.Debug(logging.CatChannel, "Pong reply failed", map[string]any{
					"error": err.Error(),
				})
			}
		}

	case protocol.TypePong:
		// Liveness acknowledged; nothing to update.

	default:
		if s.resolvePending(msg.Type, payloadBytes(msg, raw)) {
			return
		}
		if msg.Type == protocol.TypeError {
			logging.Warn(logging.CatChannel, "Bridge reported an error", map[string]any{
				"error": msg.Error,
			})
			return
		}
		logging.Debug(logging.CatChannel, "Ignoring unrecognized message type", map[string]any{
			"type": msg.Type,
		})
	}
}

// payloadBytes returns the envelope's data field, or the whole frame when
// the payload fields are inlined.
func payloadBytes(msg protocol.Message, raw []byte) json.RawMessage {
	if len(msg.Data) > 0 {
		return msg.Data
	}
	return raw
}
