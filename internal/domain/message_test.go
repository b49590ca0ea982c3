package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(MessageDirect, "user", "agent-1", "hello")
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "hello", msg.Text())
	require.NoError(t, msg.Validate())

	other := NewMessage(MessageDirect, "user", "agent-1", "hello")
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestMessageWithMetadataCopies(t *testing.T) {
	base := NewMessage(MessageEvent, "a", "", nil).WithMetadata(MetaEventType, "task_update")
	derived := base.WithMetadata("extra", 1)

	_, hasExtra := base.Metadata["extra"]
	assert.False(t, hasExtra, "original metadata must not change")
	v, ok := derived.MetaString(MetaEventType)
	assert.True(t, ok)
	assert.Equal(t, "task_update", v)
}

func TestMessageMetaString(t *testing.T) {
	msg := NewMessage(MessageEvent, "a", "", nil).WithMetadata(MetaEventType, 42)
	_, ok := msg.MetaString(MetaEventType)
	assert.False(t, ok, "non-string values are not reported")

	msg = msg.WithMetadata(MetaEventType, "")
	_, ok = msg.MetaString(MetaEventType)
	assert.False(t, ok, "empty strings are not reported")
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"missing id", Message{Type: MessageBroadcast}},
		{"bad type", Message{ID: "1", Type: "shout"}},
		{"direct without recipient", Message{ID: "1", Type: MessageDirect}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "", Message{}.Text())
	assert.Equal(t, "map[a:1]", Message{Content: map[string]int{"a": 1}}.Text())
}
