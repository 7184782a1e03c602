package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOk, StatusOf(nil))
	assert.Equal(t, StatusUnknown, StatusOf(errors.New("boom")))
	assert.Equal(t, StatusTimeout, StatusOf(StatusTimeout))

	wrapped := fmt.Errorf("send: %w", StatusTimeout)
	assert.Equal(t, StatusTimeout, StatusOf(wrapped))
	assert.True(t, errors.Is(wrapped, StatusTimeout))

	both := fmt.Errorf("%w: %w", StatusOperationFailed, StatusMessageTooLarge)
	assert.Equal(t, StatusOperationFailed, StatusOf(both))
	assert.True(t, errors.Is(both, StatusMessageTooLarge))
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		parsed, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("Sideways")
	assert.ErrorIs(t, err, StatusInvalidArgument)
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, StatusOk.Err())
	assert.ErrorIs(t, StatusInvalidState.Err(), StatusInvalidState)
}

func TestStatusTransient(t *testing.T) {
	assert.True(t, StatusWouldBlock.Transient())
	assert.True(t, StatusTimeout.Transient())
	assert.False(t, StatusMessageTooLarge.Transient())
	assert.False(t, StatusInvalidState.Transient())
}

func TestNewStatusErrorResponse(t *testing.T) {
	code, body := NewStatusErrorResponse("push failed", fmt.Errorf("uart: %w", StatusTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, "Timeout", body.Error.Code)
	assert.Equal(t, "push failed", body.Error.Message)
}
