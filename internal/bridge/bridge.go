// Package bridge implements the Protocol Bridge: it maps the frozen wire
// schema (package protocol) onto the state machine's Events, and maps
// Effect-produced OutboundMessages back onto wire frames. Mobile-only side
// channels (stt_request/stt_result, get_logs/logs) bypass the state machine
// entirely and are served here directly, calling their respective ports.
//
// Inbound payloads are classified and forwarded to the right handler by
// decoded type rather than a giant switch on a string tag alone.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
	"github.com/jaxs-ribs/codewalk/internal/protocol"
	"github.com/jaxs-ribs/codewalk/internal/session"
)

// Bridge translates between wire frames and the orchestrator's internal
// Event/Effect vocabulary.
type Bridge struct {
	STT      ports.SpeechToTextPort
	Sessions *session.Context

	// lastUserTextID dedups back-to-back user_text frames carrying the same
	// id: a retransmit (e.g. a mobile client resending after a dropped ack)
	// is acknowledged once, not fed into the state machine twice.
	lastUserTextID string
}

// New builds a Bridge. STT may be nil if speech-to-text is not wired; in
// that case stt_request frames are answered with ok=false.
func New(stt ports.SpeechToTextPort, sessions *session.Context) *Bridge {
	return &Bridge{STT: stt, Sessions: sessions}
}

// Inbound is the result of translating one inbound wire frame.
type Inbound struct {
	// Event is non-nil when the frame should be fed into the state machine.
	Event event.Event
	// Reply is a pre-encoded wire frame to send back immediately, for side
	// channels that bypass the state machine (stt_request, get_logs) and
	// for the auto-ack on user_text.
	Reply []byte
}

// HandleInbound decodes raw and routes it to the right translation.
func (b *Bridge) HandleInbound(ctx context.Context, raw []byte) (Inbound, error) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return Inbound{}, err
	}

	switch m := msg.(type) {
	case *protocol.UserText:
		if m.ID != "" && m.ID == b.lastUserTextID {
			return Inbound{}, nil
		}
		ack, encErr := protocol.Encode(protocol.NewAck(m.ID, ""))
		if encErr != nil {
			return Inbound{}, encErr
		}
		if m.ID != "" {
			b.lastUserTextID = m.ID
		}
		return Inbound{
			Event: event.UserText{Text: m.Text, Source: m.Source, ID: m.ID},
			Reply: ack,
		}, nil

	case *protocol.ConfirmResponse:
		return Inbound{Event: event.ConfirmResponse{ID: m.For, Accept: m.Accept}}, nil

	case *protocol.STTRequest:
		reply, err := b.handleSTTRequest(ctx, m)
		return Inbound{Reply: reply}, err

	case *protocol.GetLogs:
		reply, err := b.handleGetLogs(m)
		return Inbound{Reply: reply}, err

	default:
		return Inbound{}, fmt.Errorf("bridge: unhandled message type %T", msg)
	}
}

func (b *Bridge) handleSTTRequest(ctx context.Context, m *protocol.STTRequest) ([]byte, error) {
	result := protocol.STTResult{Type: protocol.TypeSTTResult, V: protocol.Version, ReplyTo: m.ID}

	if b.STT == nil {
		result.OK = false
		return protocol.Encode(result)
	}

	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		result.OK = false
		return protocol.Encode(result)
	}

	text, err := b.STT.Transcribe(ctx, m.Mime, data)
	if err != nil {
		result.OK = false
		return protocol.Encode(result)
	}

	result.OK = true
	result.Text = text
	return protocol.Encode(result)
}

func (b *Bridge) handleGetLogs(m *protocol.GetLogs) ([]byte, error) {
	active := b.Sessions.Active()
	var lines []string
	if active != nil {
		for _, l := range active.RecentLogs(m.Count) {
			lines = append(lines, l.Text)
		}
	}
	return protocol.Encode(protocol.Logs{
		Type:    protocol.TypeLogs,
		V:       protocol.Version,
		ReplyTo: m.ID,
		Count:   len(lines),
		Logs:    lines,
	})
}

// EncodeOutbound maps an Effect-produced OutboundMessage to its wire frame.
func EncodeOutbound(msg event.OutboundMessage) ([]byte, error) {
	switch msg.Kind {
	case "prompt_confirmation":
		id, _ := msg.Extra["id"].(string)
		executor, _ := msg.Extra["executor"].(string)
		workingDir, _ := msg.Extra["working_dir"].(string)
		return protocol.Encode(protocol.NewPromptConfirmation(id, executor, msg.Text, workingDir))

	case "ack":
		replyTo, _ := msg.Extra["reply_to"].(string)
		return protocol.Encode(protocol.NewAck(replyTo, msg.Text))

	default:
		level := msg.Level
		if level == "" {
			level = "info"
		}
		return protocol.Encode(protocol.NewStatus(level, msg.Text))
	}
}
