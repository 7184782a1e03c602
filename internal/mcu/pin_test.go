package mcu

import (
	"encoding/json"
	"testing"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinTransitionMatches(t *testing.T) {
	tests := []struct {
		name       string
		transition PinTransition
		prev, next PinState
		want       bool
	}{
		{"rising low to high", PinRising, PinLow, PinHigh, true},
		{"rising hiz to high", PinRising, PinHighZ, PinHigh, true},
		{"rising high to low", PinRising, PinHigh, PinLow, false},
		{"rising no change", PinRising, PinHigh, PinHigh, false},
		{"falling high to low", PinFalling, PinHigh, PinLow, true},
		{"falling hiz to low", PinFalling, PinHighZ, PinLow, true},
		{"falling low to high", PinFalling, PinLow, PinHigh, false},
		{"both low to high", PinBoth, PinLow, PinHigh, true},
		{"both high to hiz", PinBoth, PinHigh, PinHighZ, true},
		{"both no change", PinBoth, PinLow, PinLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.transition.Matches(tt.prev, tt.next))
		})
	}
}

func TestPinStateText(t *testing.T) {
	data, err := json.Marshal(struct {
		State PinState `json:"state"`
	}{PinHighZ})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"Hi_Z"}`, string(data))

	var decoded struct {
		State PinState `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"state":"High"}`), &decoded))
	assert.Equal(t, PinHigh, decoded.State)

	err = json.Unmarshal([]byte(`{"state":"Floating"}`), &decoded)
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
}

func TestParsePinDirection(t *testing.T) {
	d, err := ParsePinDirection(types.PinDirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, PinOutput, d)

	_, err = ParsePinDirection("sideways")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
}
