// Package protocol defines the messages exchanged between a device process
// and the peripheral emulator.
//
// Every message is a JSON object carrying a type (Request or Response), the
// object kind of the peripheral it concerns and the peripheral's name.
// There are no sequence numbers: each channel carries one outstanding
// request at a time and a response must name the same object and
// peripheral as its request (see Answers).
package protocol

import (
	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/types"
)

type MessageType string

const (
	TypeRequest  MessageType = "Request"
	TypeResponse MessageType = "Response"
)

type ObjectType string

const (
	ObjectPin  ObjectType = "Pin"
	ObjectUart ObjectType = "Uart"
	ObjectI2C  ObjectType = "I2C"
)

type OperationType string

const (
	OperationSet     OperationType = "Set"
	OperationGet     OperationType = "Get"
	OperationSend    OperationType = "Send"
	OperationReceive OperationType = "Receive"
)

// Kind identifies one of the six concrete message shapes.
type Kind string

const (
	KindPinRequest   Kind = "pin-request"
	KindPinResponse  Kind = "pin-response"
	KindI2CRequest   Kind = "i2c-request"
	KindI2CResponse  Kind = "i2c-response"
	KindUartRequest  Kind = "uart-request"
	KindUartResponse Kind = "uart-response"
)

var kinds = []Kind{
	KindPinRequest,
	KindPinResponse,
	KindI2CRequest,
	KindI2CResponse,
	KindUartRequest,
	KindUartResponse,
}

// Header is the part shared by every message, used for routing.
type Header struct {
	Type   MessageType `json:"type"`
	Object ObjectType  `json:"object"`
	Name   string      `json:"name"`
}

// Kind returns the message shape announced by the header.
func (h Header) Kind() (Kind, bool) {
	switch {
	case h.Object == ObjectPin && h.Type == TypeRequest:
		return KindPinRequest, true
	case h.Object == ObjectPin && h.Type == TypeResponse:
		return KindPinResponse, true
	case h.Object == ObjectI2C && h.Type == TypeRequest:
		return KindI2CRequest, true
	case h.Object == ObjectI2C && h.Type == TypeResponse:
		return KindI2CResponse, true
	case h.Object == ObjectUart && h.Type == TypeRequest:
		return KindUartRequest, true
	case h.Object == ObjectUart && h.Type == TypeResponse:
		return KindUartResponse, true
	default:
		return "", false
	}
}

// Message is implemented by the six wire structs.
type Message interface {
	Kind() Kind
}

type PinRequest struct {
	Type      MessageType   `json:"type"`
	Object    ObjectType    `json:"object"`
	Name      string        `json:"name"`
	Operation OperationType `json:"operation"`
	State     mcu.PinState  `json:"state"`
}

type PinResponse struct {
	Type   MessageType  `json:"type"`
	Object ObjectType   `json:"object"`
	Name   string       `json:"name"`
	State  mcu.PinState `json:"state"`
	Status types.Status `json:"status"`
}

type I2CRequest struct {
	Type      MessageType   `json:"type"`
	Object    ObjectType    `json:"object"`
	Name      string        `json:"name"`
	Operation OperationType `json:"operation"`
	Address   uint16        `json:"address"`
	Data      Bytes         `json:"data"`
	Size      int           `json:"size"`
}

type I2CResponse struct {
	Type             MessageType  `json:"type"`
	Object           ObjectType   `json:"object"`
	Name             string       `json:"name"`
	Address          uint16       `json:"address"`
	Data             Bytes        `json:"data"`
	BytesTransferred int          `json:"bytes_transferred"`
	Status           types.Status `json:"status"`
}

type UartRequest struct {
	Type      MessageType   `json:"type"`
	Object    ObjectType    `json:"object"`
	Name      string        `json:"name"`
	Operation OperationType `json:"operation"`
	Data      Bytes         `json:"data"`
	Size      int           `json:"size"`
	TimeoutMs uint32        `json:"timeout_ms"`
}

type UartResponse struct {
	Type             MessageType  `json:"type"`
	Object           ObjectType   `json:"object"`
	Name             string       `json:"name"`
	Data             Bytes        `json:"data"`
	BytesTransferred int          `json:"bytes_transferred"`
	Status           types.Status `json:"status"`
}

func (PinRequest) Kind() Kind   { return KindPinRequest }
func (PinResponse) Kind() Kind  { return KindPinResponse }
func (I2CRequest) Kind() Kind   { return KindI2CRequest }
func (I2CResponse) Kind() Kind  { return KindI2CResponse }
func (UartRequest) Kind() Kind  { return KindUartRequest }
func (UartResponse) Kind() Kind { return KindUartResponse }

func NewPinRequest(name string, op OperationType, state mcu.PinState) PinRequest {
	return PinRequest{
		Type:      TypeRequest,
		Object:    ObjectPin,
		Name:      name,
		Operation: op,
		State:     state,
	}
}

func NewPinResponse(name string, state mcu.PinState, status types.Status) PinResponse {
	return PinResponse{
		Type:   TypeResponse,
		Object: ObjectPin,
		Name:   name,
		State:  state,
		Status: status,
	}
}

func NewI2CRequest(name string, op OperationType, address uint16, data []byte, size int) I2CRequest {
	return I2CRequest{
		Type:      TypeRequest,
		Object:    ObjectI2C,
		Name:      name,
		Operation: op,
		Address:   address,
		Data:      bytesOf(data),
		Size:      size,
	}
}

func NewI2CResponse(name string, address uint16, data []byte, status types.Status) I2CResponse {
	return I2CResponse{
		Type:             TypeResponse,
		Object:           ObjectI2C,
		Name:             name,
		Address:          address,
		Data:             bytesOf(data),
		BytesTransferred: len(data),
		Status:           status,
	}
}

func NewUartRequest(name string, op OperationType, data []byte, size int, timeoutMs uint32) UartRequest {
	return UartRequest{
		Type:      TypeRequest,
		Object:    ObjectUart,
		Name:      name,
		Operation: op,
		Data:      bytesOf(data),
		Size:      size,
		TimeoutMs: timeoutMs,
	}
}

func NewUartResponse(name string, data []byte, transferred int, status types.Status) UartResponse {
	return UartResponse{
		Type:             TypeResponse,
		Object:           ObjectUart,
		Name:             name,
		Data:             bytesOf(data),
		BytesTransferred: transferred,
		Status:           status,
	}
}
