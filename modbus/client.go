// Package modbus writes the battery power setpoint to the inverter's
// field-bus register interface.
package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"
)

const (
	// inverterUnitID is the modbus unit the hybrid inverter listens on.
	inverterUnitID = 71

	// batteryPowerRegister is the signed battery power setpoint in watts.
	// Negative = charge, positive = discharge. Writes only have effect while
	// the inverter is in external control mode.
	batteryPowerRegister = 1034
)

// Client provides an interface onto the inverter's modbus registers.
// It hides the underlying open source modbus library and reconnects lazily
// after connection errors.
type Client struct {
	host string

	subClient       *modbus.ModbusClient // the raw client of the underlying modbus library we are using
	shouldReconnect bool                 // when true, the subClient is 'dirty' and will be re-created next time a write call is made
	logger          *slog.Logger
}

func NewClient(host string) *Client {
	return &Client{
		host:            host,
		shouldReconnect: true, // connect lazily on the first write
		logger:          slog.Default().With("host", host),
	}
}

// WriteBatteryPower writes the signed battery power setpoint in watts.
// Negative = charge, positive = discharge, zero = idle.
func (c *Client) WriteBatteryPower(watts int16) error {

	err := c.reconnectIfNeccesary()
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	err = c.subClient.WriteRegister(batteryPowerRegister, uint16(watts))
	if err != nil {
		c.setShouldReconnect()
		return fmt.Errorf("write register %d: %w", batteryPowerRegister, err)
	}

	c.logger.Debug("Wrote battery power setpoint", "watts", watts)

	return nil
}

// createSubClient creates the open-source modbus library client with sensible defaults and connects to the host.
func (c *Client) createSubClient() error {
	subClient, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", c.host),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}

	err = subClient.Open()
	if err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}

	err = subClient.SetUnitId(inverterUnitID)
	if err != nil {
		subClient.Close()
		return fmt.Errorf("set unit id: %w", err)
	}

	c.subClient = subClient

	return nil
}

// setShouldReconnect is called when there has been an error with the modbus connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary will close the old connection and reconnect if there have been problems with the connection.
func (c *Client) reconnectIfNeccesary() error {
	if !c.shouldReconnect {
		return nil
	}

	// Ignore errors from Close() as we will continue with the reconnect anyway and start a new connection.
	if c.subClient != nil {
		c.subClient.Close()
	}

	err := c.createSubClient()
	if err != nil {
		return err
	}

	c.shouldReconnect = false

	c.logger.Info("Connected modbus client")

	return nil
}

// Close shuts the underlying connection down.
func (c *Client) Close() {
	if c.subClient != nil {
		c.subClient.Close()
	}
	c.shouldReconnect = true
}
