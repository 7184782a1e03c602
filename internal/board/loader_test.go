package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sensorBoard = `
board:
  id: sensor-node
  name: Sensor node
  version: "2.1"
pins:
  - name: Status LED
    direction: output
    initial_state: High
  - name: Alert
    direction: input
uarts:
  - name: Console
    baud_rate: 9600
i2c:
  - name: Sensor bus
    devices:
      - address: 0x48
        data: [0x19, 0x80]
`

func newTestLoader(t *testing.T, files map[string]string) *ProfileLoader {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	loader, err := NewProfileLoader([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)
	return loader
}

func TestLoadProfileFromSearchPath(t *testing.T) {
	loader := newTestLoader(t, map[string]string{"sensor.yaml": sensorBoard})

	profile, err := loader.Load("sensor")
	require.NoError(t, err)

	assert.Equal(t, "sensor-node", profile.Board.ID)
	require.Len(t, profile.Pins, 2)
	assert.Equal(t, types.PinDirectionOutput, profile.Pins[0].Direction)
	assert.Equal(t, "High", profile.Pins[0].InitialState)
	assert.Equal(t, uint32(9600), profile.Uarts[0].BaudRate)
	require.Len(t, profile.I2C[0].Devices, 1)
	assert.Equal(t, uint16(0x48), profile.I2C[0].Devices[0].Address)
	assert.Equal(t, []byte{0x19, 0x80}, profile.I2C[0].Devices[0].Bytes())
	assert.Equal(t, 4, profile.PeripheralCount())

	again, err := loader.Load("sensor")
	require.NoError(t, err)
	assert.Same(t, profile, again)

	loader.ClearCache()
	reloaded, err := loader.Load("sensor")
	require.NoError(t, err)
	assert.NotSame(t, profile, reloaded)
}

func TestLoadProfileByPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yml")
	require.NoError(t, os.WriteFile(path, []byte(sensorBoard), 0o644))

	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	profile, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Sensor node", profile.Board.Name)
}

func TestLoadDefaultProfile(t *testing.T) {
	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	for _, name := range []string{"", DefaultProfileName} {
		profile, err := loader.Load(name)
		require.NoError(t, err)
		assert.Equal(t, "host", profile.Board.ID)
	}

	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateProfileDefinition(DefaultProfile()))
}

func TestLoadProfileNotFound(t *testing.T) {
	loader := newTestLoader(t, nil)

	_, err := loader.Load("nope")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)

	_, err = loader.Load("/does/not/exist.yaml")
	assert.ErrorIs(t, err, types.StatusInvalidArgument)
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	loader, err := NewProfileLoader(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "not yaml",
			yaml: "board: [",
		},
		{
			name: "missing board",
			yaml: "pins: []",
		},
		{
			name: "bad board id",
			yaml: "board: {id: Bad ID, name: x}\npins: []",
		},
		{
			name: "unknown direction",
			yaml: "board: {id: b, name: x}\npins:\n  - {name: P, direction: sideways}",
		},
		{
			name: "unknown initial state",
			yaml: "board: {id: b, name: x}\npins:\n  - {name: P, direction: input, initial_state: Floating}",
		},
		{
			name: "duplicate pin",
			yaml: "board: {id: b, name: x}\npins:\n  - {name: P, direction: input}\n  - {name: P, direction: output}",
		},
		{
			name: "duplicate uart",
			yaml: "board: {id: b, name: x}\npins: []\nuarts:\n  - {name: U}\n  - {name: U}",
		},
		{
			name: "duplicate bus",
			yaml: "board: {id: b, name: x}\npins: []\ni2c:\n  - {name: B}\n  - {name: B}",
		},
		{
			name: "byte out of range",
			yaml: "board: {id: b, name: x}\npins: []\ni2c:\n  - name: B\n    devices:\n      - {address: 0x10, data: [256]}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, types.StatusInvalidArgument)
		})
	}
}
