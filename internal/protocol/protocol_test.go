package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeUserText(t *testing.T) {
	raw := []byte(`{"type":"user_text","v":1,"id":"abc","text":"hello","source":"mobile","final":true}`)
	msg, err := Decode(raw)
	require.NoError(t, err)

	ut, ok := msg.(*UserText)
	require.True(t, ok)
	assert.Equal(t, "abc", ut.ID)
	assert.Equal(t, "hello", ut.Text)
	assert.True(t, ut.Final)
}

func TestDecodeIgnoresUnknownTopLevelFields(t *testing.T) {
	raw := []byte(`{"type":"user_text","id":"1","text":"hi","source":"tui","final":true,"unexpected_field":"ignored"}`)
	_, err := Decode(raw)
	require.NoError(t, err)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"not_a_real_type"}`))
	require.Error(t, err)
}

// TestUserTextRoundTrip verifies Parse(serialize(m)) == m for generated
// user_text messages.
func TestUserTextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := UserText{
			Type:   TypeUserText,
			V:      Version,
			ID:     rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "id"),
			Text:   rapid.String().Draw(t, "text"),
			Source: rapid.SampledFrom([]string{"mobile", "tui", "relay"}).Draw(t, "source"),
			Final:  rapid.Bool().Draw(t, "final"),
		}

		encoded, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		got, ok := decoded.(*UserText)
		require.True(t, ok)
		assert.Equal(t, original, *got)
	})
}

func TestConfirmResponseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := ConfirmResponse{
			Type:   TypeConfirmResponse,
			V:      Version,
			ID:     rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "id"),
			For:    rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "for"),
			Accept: rapid.Bool().Draw(t, "accept"),
		}

		encoded, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		got, ok := decoded.(*ConfirmResponse)
		require.True(t, ok)
		assert.Equal(t, original, *got)
	})
}

func TestNewStatusAndAck(t *testing.T) {
	s := NewStatus("warn", "Still processing")
	assert.Equal(t, TypeStatus, s.Type)
	assert.Equal(t, "warn", s.Level)

	a := NewAck("msg-1", "")
	assert.Equal(t, TypeAck, a.Type)
	assert.Equal(t, "msg-1", a.ReplyTo)
}
