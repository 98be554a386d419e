// Package serial connects the PC-side tools to the console of a target
// board running the SD card exerciser firmware. The link is byte oriented:
// report text streams out of the target, single-byte start/stop controls go
// in.
package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// readPollMillis bounds every Read so a monitor loop can interleave signal
// handling with streaming instead of blocking on a quiet link.
const readPollMillis = 100

// Console is an open link to the exerciser's serial console.
type Console struct {
	port *serial.Port
}

// Open connects to the target console on device. USB CDC targets ignore
// the baud rate; real UART bridges honor it.
func Open(device string, baud int) (*Console, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readPollMillis * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return &Console{port: port}, nil
}

// SendControl writes one control byte to the target. The exerciser firmware
// treats any received byte as a start or stop request.
func (c *Console) SendControl(b byte) error {
	_, err := c.port.Write([]byte{b})
	return err
}

// Read streams console output from the target. A quiet link returns 0 bytes
// once the poll timeout expires rather than blocking forever.
func (c *Console) Read(buf []byte) (int, error) {
	return c.port.Read(buf)
}

// Close releases the port.
func (c *Console) Close() error {
	return c.port.Close()
}
