package components

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOverflowKeepsNewest(t *testing.T) {
	mem := NewMemory(3)
	mem.NewTurn()
	for _, s := range []string{"a", "b", "c", "d"} {
		mem.NewMessage(UserRole, s)
	}
	history := mem.History()
	require.Len(t, history, 3)
	assert.Equal(t, "b", history[0].Content())
	assert.Equal(t, "d", history[2].Content())
	assert.Equal(t, mem.TurnID(), history[2].TurnID())
}

func TestMemoryDeleteTurn(t *testing.T) {
	mem := NewMemory(10)
	first := mem.NewTurn()
	mem.NewMessage(UserRole, "hi")
	mem.NewMessage(AssistantRole, "hello")
	second := mem.NewTurn()
	mem.NewMessage(UserRole, "bye")

	require.NoError(t, mem.DeleteTurn(second))
	assert.Equal(t, 2, mem.MessageCount())
	assert.Equal(t, first, mem.TurnID())
	assert.Error(t, mem.DeleteTurn("missing"))
}

func TestMemoryLastAndAppend(t *testing.T) {
	mem := NewMemory(0)
	mem.Append(
		*NewMessage(UserRole, "one").SetTurnID("t1"),
		*NewMessage(AssistantRole, "two").SetTurnID("t1"),
		*NewMessage(UserRole, "three").SetTurnID("t2"),
	)
	last := mem.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content())
	assert.Equal(t, "t2", mem.TurnID())
	assert.Len(t, mem.Last(10), 3)
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := NewMessage(UserRole, "test string").SetTurnID("turn")
	bs, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded Message
	require.NoError(t, json.Unmarshal(bs, &decoded))
	assert.Equal(t, msg.Content(), decoded.Content())
	assert.Equal(t, msg.Role(), decoded.Role())
	assert.Equal(t, "turn", decoded.TurnID())
}

func TestErrorClassification(t *testing.T) {
	verr := &ValidationError{Schema: "NutritionAdvice", Err: errors.New("too few")}
	assert.True(t, IsRetryable(verr))
	verr.Escalated = true
	assert.False(t, IsRetryable(verr))

	assert.True(t, IsRetryable(&ProviderError{Transient: true}))
	assert.False(t, IsRetryable(&ProviderError{Transient: true, CircuitOpen: true}))
	assert.False(t, IsRetryable(&ProviderError{StatusCode: 401}))
	assert.False(t, IsRetryable(&InputError{Field: "image", Reason: "missing"}))

	cerr := &CancellationError{Step: "analyze_image"}
	assert.True(t, errors.Is(cerr, ErrCancelled))
	assert.True(t, IsCancellation(cerr))
	assert.False(t, IsRetryable(cerr))

	assert.True(t, TransientStatus(429))
	assert.True(t, TransientStatus(503))
	assert.False(t, TransientStatus(400))
}
