package driver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is an open device link. Read may return (0, nil) when its read
// timeout expires.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device link. It is called once per connection attempt.
type Opener interface {
	Open(ctx context.Context) (Port, error)
	String() string
}

// SerialOpener opens a serial port at 8N1.
//
// Path is either a device path ("/dev/ttyACM0", "COM3") or an auto
// selector resolved on every attempt:
//   - "auto:<VID>:<PID>" picks the first USB port with that vendor/product
//   - "auto:<serial>" picks the USB port with that serial number
type SerialOpener struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration
}

// Open resolves the path and opens the port.
func (o SerialOpener) Open(_ context.Context) (Port, error) {
	name, err := ResolvePort(o.Path)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: o.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if o.ReadTimeout > 0 {
		if err := p.SetReadTimeout(o.ReadTimeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
		}
	}
	return p, nil
}

func (o SerialOpener) String() string {
	return o.Path
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts enumerates the serial ports on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return out, nil
}

// ResolvePort turns a configured port into a device name, resolving
// auto: selectors against the host's USB serial ports.
func ResolvePort(path string) (string, error) {
	selector, ok := strings.CutPrefix(path, "auto:")
	if !ok {
		return path, nil
	}
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return matchPort(selector, ports)
}

func matchPort(selector string, ports []PortInfo) (string, error) {
	vid, pid, byID := strings.Cut(selector, ":")
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if byID && strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
			return p.Name, nil
		}
		if !byID && p.SerialNumber == selector {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: auto:%s", ErrPortNotFound, selector)
}
