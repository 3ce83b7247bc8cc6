package modem

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// serialPort is the minimal surface every driver variant needs. Real
// traffic goes through github.com/tarm/serial; tests substitute a fake
// implementing the same three methods, since tarm/serial.Port is a
// concrete struct with no public interface of its own.
type serialPort interface {
	io.Reader
	io.Writer
	io.Closer
}

// openSerial opens a real serial port with the given read timeout acting
// as the "non-blocking" poll window recv_radio_frame relies on: a read
// that times out with nothing available returns (0, nil) rather than
// blocking the ingress loop indefinitely.
func openSerial(port string, baud int, readTimeout time.Duration) (serialPort, error) {
	cfg := &serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialOpen, err)
	}
	return p, nil
}
