package websocket

import (
	"time"

	"github.com/KevinKickass/HostEmu/internal/emulator"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Emulator traffic
	MessageTypeEmulatorEvent MessageType = "emulator_event"

	// Device link messages
	MessageTypeDeviceConnected    MessageType = "device_connected"
	MessageTypeDeviceDisconnected MessageType = "device_disconnected"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Replies to client commands
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DeviceData describes the device end of the emulator's transport.
type DeviceData struct {
	BoardID     string `json:"board_id"`
	TransportID string `json:"transport_id,omitempty"`
}

// SystemStatusData represents a lifecycle state change
type SystemStatusData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
	Error    string `json:"error,omitempty"`
}

// SubscribedData echoes the objects a client now receives events for.
// Empty means all.
type SubscribedData struct {
	Objects []string `json:"objects"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewEventMessage(event *emulator.Event) Message {
	return Message{
		Type:      MessageTypeEmulatorEvent,
		Timestamp: event.Timestamp,
		Data:      event,
	}
}

func NewDeviceMessage(connected bool, boardID, transportID string) Message {
	msgType := MessageTypeDeviceDisconnected
	if connected {
		msgType = MessageTypeDeviceConnected
	}
	return NewMessage(msgType, DeviceData{
		BoardID:     boardID,
		TransportID: transportID,
	})
}

func NewSystemStatusMessage(state, previous, errMsg string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStatusData{
		State:    state,
		Previous: previous,
		Error:    errMsg,
	})
}

// object returns the peripheral kind an event message is about, "" for
// other messages.
func (m Message) object() string {
	if event, ok := m.Data.(*emulator.Event); ok {
		return string(event.Object)
	}
	return ""
}
