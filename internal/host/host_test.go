package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_Accepted(t *testing.T) {
	assert.True(t, Accept("Allow").Accepted())
	assert.False(t, Decline().Accepted())
	assert.False(t, Response{Action: ActionCancel}.Accepted())
}

func TestScripted(t *testing.T) {
	ctx := context.Background()
	h := NewScripted(Accept("Allow"))
	h.Push(Decline())

	require.NoError(t, h.Announce(ctx, "hello"))
	assert.Equal(t, []string{"hello"}, h.Announcements)

	r, err := h.Elicit(ctx, Prompt{Message: "first", Choices: []string{"Allow", "Deny"}})
	require.NoError(t, err)
	assert.Equal(t, "Allow", r.Choice)

	r, err = h.Elicit(ctx, Prompt{Message: "second"})
	require.NoError(t, err)
	assert.Equal(t, ActionDecline, r.Action)

	r, err = h.Elicit(ctx, Prompt{Message: "exhausted"})
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, r.Action)

	boom := errors.New("transport closed")
	h.PushError(boom)
	_, err = h.Elicit(ctx, Prompt{Message: "err"})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 4, h.ElicitCount())
}
