// Package protocol defines the frozen v1 wire schema exchanged between the
// orchestrator and its peers (mobile/TUI clients, via the relay). Frames are
// JSON text, fields are snake_case except the replyTo field of stt_result
// and logs, and the version is carried in an optional "v" field for
// backward compatibility.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the current protocol version stamped into outbound messages.
const Version = 1

// Message types, by their wire "type" discriminator.
const (
	TypeUserText           = "user_text"
	TypeConfirmResponse    = "confirm_response"
	TypePromptConfirmation = "prompt_confirmation"
	TypeStatus             = "status"
	TypeAck                = "ack"
	TypeSTTRequest         = "stt_request"
	TypeSTTResult          = "stt_result"
	TypeGetLogs            = "get_logs"
	TypeLogs               = "logs"
)

// Envelope is the minimal shape every inbound frame must satisfy in order to
// be dispatched to a typed handler below.
type Envelope struct {
	Type string `json:"type"`
	V    int    `json:"v,omitempty"`
}

// UserText is sent by a client to report a final (or partial) transcript.
type UserText struct {
	Type   string `json:"type"`
	V      int    `json:"v,omitempty"`
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Final  bool   `json:"final"`
}

// ConfirmResponse answers an outstanding PromptConfirmation.
type ConfirmResponse struct {
	Type   string `json:"type"`
	V      int    `json:"v,omitempty"`
	ID     string `json:"id"`
	For    string `json:"for"`
	Accept bool   `json:"accept"`
}

// PromptConfirmation is sent to the client to request a yes/no decision.
type PromptConfirmation struct {
	Type       string `json:"type"`
	V          int    `json:"v,omitempty"`
	ID         string `json:"id"`
	For        string `json:"for,omitempty"`
	Executor   string `json:"executor"`
	WorkingDir string `json:"working_dir,omitempty"`
	Prompt     string `json:"prompt"`
}

// Status is a one-way informational message.
type Status struct {
	Type  string `json:"type"`
	V     int    `json:"v,omitempty"`
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Ack acknowledges receipt of a user_text (or other) frame.
type Ack struct {
	Type    string `json:"type"`
	V       int    `json:"v,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Text    string `json:"text,omitempty"`
}

// STTRequest/STTResult and GetLogs/Logs are mobile-only side channels that
// bypass the state machine entirely; the bridge serves them directly.
type STTRequest struct {
	Type string `json:"type"`
	V    int    `json:"v,omitempty"`
	ID   string `json:"id"`
	Mime string `json:"mime"`
	Data string `json:"data"`
}

type STTResult struct {
	Type    string `json:"type"`
	V       int    `json:"v,omitempty"`
	ReplyTo string `json:"replyTo"`
	Text    string `json:"text"`
	OK      bool   `json:"ok"`
}

type GetLogs struct {
	Type  string `json:"type"`
	V     int    `json:"v,omitempty"`
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type Logs struct {
	Type    string   `json:"type"`
	V       int      `json:"v,omitempty"`
	ReplyTo string   `json:"replyTo"`
	Count   int      `json:"count"`
	Logs    []string `json:"logs"`
}

// Decode inspects the envelope's "type" field and unmarshals raw into the
// matching concrete message type. Unknown top-level fields are ignored by
// encoding/json by default, matching the "receivers MUST ignore unknown
// top-level fields" requirement; unknown required fields are caught by the
// caller validating the decoded struct's zero values.
func Decode(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: decoding envelope: %w", err)
	}

	switch env.Type {
	case TypeUserText:
		var m UserText
		return &m, unmarshalStrict(raw, &m)
	case TypeConfirmResponse:
		var m ConfirmResponse
		return &m, unmarshalStrict(raw, &m)
	case TypePromptConfirmation:
		var m PromptConfirmation
		return &m, unmarshalStrict(raw, &m)
	case TypeStatus:
		var m Status
		return &m, unmarshalStrict(raw, &m)
	case TypeAck:
		var m Ack
		return &m, unmarshalStrict(raw, &m)
	case TypeSTTRequest:
		var m STTRequest
		return &m, unmarshalStrict(raw, &m)
	case TypeSTTResult:
		var m STTResult
		return &m, unmarshalStrict(raw, &m)
	case TypeGetLogs:
		var m GetLogs
		return &m, unmarshalStrict(raw, &m)
	case TypeLogs:
		var m Logs
		return &m, unmarshalStrict(raw, &m)
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", env.Type)
	}
}

func unmarshalStrict(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("protocol: decoding %T: %w", v, err)
	}
	return nil
}

// Encode serializes an outbound message. All outbound types set their own
// Type/V fields via the constructors below, so Encode is a thin wrapper kept
// for symmetry with Decode and to centralize the single json.Marshal call
// site outbound messages pass through.
func Encode(m any) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %T: %w", m, err)
	}
	return b, nil
}

// NewStatus builds a Status message with the current protocol version.
func NewStatus(level, text string) Status {
	return Status{Type: TypeStatus, V: Version, Level: level, Text: text}
}

// NewAck builds an Ack message replying to a given frame id.
func NewAck(replyTo, text string) Ack {
	return Ack{Type: TypeAck, V: Version, ReplyTo: replyTo, Text: text}
}

// NewPromptConfirmation builds a confirmation prompt for the given ticket.
func NewPromptConfirmation(id, executor, prompt, workingDir string) PromptConfirmation {
	return PromptConfirmation{
		Type:       TypePromptConfirmation,
		V:          Version,
		ID:         id,
		Executor:   executor,
		WorkingDir: workingDir,
		Prompt:     prompt,
	}
}
