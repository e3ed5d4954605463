package ws

import (
	"fmt"

	"github.com/cartly/chat-engine/internal/engine"
	"github.com/cartly/chat-engine/internal/protocol"
)

// EncodeEvent maps an engine event to its wire representation. The second
// return value is false for event kinds that have no client-facing form.
func EncodeEvent(ev engine.Event) ([]byte, bool, error) {
	switch ev.Kind {
	case engine.EventMessage:
		if ev.Envelope == nil {
			return nil, false, fmt.Errorf("ws: message event without envelope")
		}
		data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ChatMessageMsg{
			Message: WireEnvelope(ev.Envelope),
		})
		return data, true, err

	case engine.EventSystem:
		if ev.Envelope == nil {
			return nil, false, fmt.Errorf("ws: system event without envelope")
		}
		data, err := protocol.NewServerMessage(protocol.TypeSystem, protocol.ChatMessageMsg{
			Message: WireEnvelope(ev.Envelope),
		})
		return data, true, err

	case engine.EventPresence:
		msgType := protocol.TypeUserJoined
		if ev.Action == engine.ActionLeft {
			msgType = protocol.TypeUserLeft
		}
		data, err := protocol.NewServerMessage(msgType, protocol.PresenceMsg{
			RoomKey:    ev.Room.String(),
			IdentityID: ev.Identity,
		})
		return data, true, err

	case engine.EventTyping:
		data, err := protocol.NewServerMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
			RoomKey:    ev.Room.String(),
			IdentityID: ev.Identity,
			Action:     ev.Action,
		})
		return data, true, err

	case engine.EventReadReceipt:
		data, err := protocol.NewServerMessage(protocol.TypeReadReceipt, protocol.ReadReceiptMsg{
			MessageID:  ev.MessageID,
			IdentityID: ev.Identity,
			ReadAt:     ev.ReadAt.UnixMilli(),
		})
		return data, true, err

	case engine.EventMention:
		data, err := protocol.NewServerMessage(protocol.TypeMention, protocol.MentionMsg{
			MessageID: ev.MessageID,
			RoomKey:   ev.Room.String(),
		})
		return data, true, err

	case engine.EventError:
		code, message := engine.CodeUpstreamError, "internal error"
		if ev.Err != nil {
			code, message = ev.Err.Code, ev.Err.Message
		}
		data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    code,
			Message: message,
		})
		return data, true, err

	case engine.EventHeartbeat:
		data, err := protocol.NewServerMessage(protocol.TypeHeartbeat, protocol.HeartbeatMsg{})
		return data, true, err

	default:
		return nil, false, nil
	}
}

// WireEnvelope converts an engine envelope to its wire form.
func WireEnvelope(env *engine.Envelope) protocol.WireMessage {
	return protocol.WireMessage{
		MessageID:  env.ID,
		RoomKey:    env.Room.String(),
		ItemID:     env.ItemID,
		Author:     env.Author,
		Body:       env.Body,
		Attachment: env.Attachment,
		CreatedAt:  env.CreatedAt.UnixMilli(),
	}
}
