package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/HostEmu/internal/mcu"
	"github.com/KevinKickass/HostEmu/internal/protocol"
	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/pins
func (s *Server) listPins(c *gin.Context) {
	pins := s.lm.Emulator().Pins()
	c.JSON(http.StatusOK, gin.H{
		"pins":  pins,
		"count": len(pins),
	})
}

// GET /api/v1/pins/:name
func (s *Server) getPin(c *gin.Context) {
	name := c.Param("name")
	state, ok := s.lm.Emulator().PinState(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(string(types.StatusInvalidArgument), "pin not found", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  name,
		"state": state,
	})
}

// PUT /api/v1/pins/:name
// Drives the pin and pushes the new level to the device.
func (s *Server) setPin(c *gin.Context) {
	var req struct {
		State *mcu.PinState `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Invalid request body", err.Error()))
		return
	}

	resp, err := s.lm.Emulator().SetState(c.Param("name"), *req.State)
	if err != nil {
		s.fail(c, "Failed to set pin", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/pins/:name/device
// Asks the device for its view of the pin.
func (s *Server) queryPin(c *gin.Context) {
	name := c.Param("name")
	state, err := s.lm.Emulator().QueryState(name)
	if err != nil {
		s.fail(c, "Failed to query pin", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  name,
		"state": state,
	})
}

// GET /api/v1/uarts/:name/tx
func (s *Server) getUartTx(c *gin.Context) {
	data, err := s.lm.Emulator().TxData(c.Param("name"))
	if err != nil {
		s.fail(c, "Failed to read UART buffer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name": c.Param("name"),
		"data": protocol.Bytes(data),
		"text": string(data),
	})
}

// DELETE /api/v1/uarts/:name/tx
func (s *Server) clearUartTx(c *gin.Context) {
	if err := s.lm.Emulator().ClearTx(c.Param("name")); err != nil {
		s.fail(c, "Failed to clear UART buffer", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/uarts/:name/rx
// Body is {"data": [..]} or {"text": "..."}; the bytes are pushed to the
// device as received on the line.
func (s *Server) pushUartRx(c *gin.Context) {
	var req struct {
		Data protocol.Bytes `json:"data"`
		Text string         `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Invalid request body", err.Error()))
		return
	}

	data := []byte(req.Data)
	if req.Text != "" {
		data = append(data, req.Text...)
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Nothing to send", nil))
		return
	}

	resp, err := s.lm.Emulator().SendToDevice(c.Param("name"), data)
	if err != nil {
		s.fail(c, "Failed to push UART data", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/i2c/:name/devices/:address
func (s *Server) readI2C(c *gin.Context) {
	address, err := parseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Invalid address", err.Error()))
		return
	}

	data, err := s.lm.Emulator().ReadFromDevice(c.Param("name"), address)
	if err != nil {
		s.fail(c, "Failed to read I2C buffer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    c.Param("name"),
		"address": address,
		"data":    protocol.Bytes(data),
	})
}

// PUT /api/v1/i2c/:name/devices/:address
func (s *Server) writeI2C(c *gin.Context) {
	address, err := parseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Invalid address", err.Error()))
		return
	}

	var req struct {
		Data protocol.Bytes `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(string(types.StatusInvalidArgument), "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Emulator().WriteToDevice(c.Param("name"), address, req.Data); err != nil {
		s.fail(c, "Failed to write I2C buffer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    c.Param("name"),
		"address": address,
		"data":    req.Data,
	})
}

// parseAddress accepts decimal and 0x-prefixed hex.
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, types.StatusInvalidArgument)
	}
	return uint16(v), nil
}
