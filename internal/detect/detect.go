// Package detect finds ESP32 boards waiting on serial ports.
package detect

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigbag/papyrix-mtd/internal/flasher"
	"github.com/bigbag/papyrix-mtd/internal/protocol"
	"github.com/bigbag/papyrix-mtd/internal/serial"
)

// ErrNotFound is returned when no port answers as a bootloader.
var ErrNotFound = errors.New("no ESP32 device found")

// Result represents a detected ESP32 device.
type Result struct {
	Port     string
	ChipID   uint32
	ChipName string
}

// Link is an open port a bootloader session can run over.
type Link interface {
	flasher.Transport
	Close() error
}

// Detector probes ports. The zero value is not usable; use New.
type Detector struct {
	BaudRate int
	Options  flasher.Options
	List     func() ([]string, error)
	Open     func(name string, baudRate int) (Link, error)
	Logger   *slog.Logger
}

// New returns a Detector over the host's serial ports.
func New(baudRate int) *Detector {
	return &Detector{
		BaudRate: baudRate,
		Options:  flasher.DefaultOptions(),
		List:     serial.ListPorts,
		Open: func(name string, baudRate int) (Link, error) {
			return serial.Open(name, baudRate)
		},
		Logger: slog.New(slog.DiscardHandler),
	}
}

// First returns the first port with a responding bootloader.
func (d *Detector) First() (*Result, error) {
	ports, err := d.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found: %w", ErrNotFound)
	}

	var lastErr error
	for _, name := range ports {
		result, err := d.Probe(name)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w (last error: %w)", ErrNotFound, lastErr)
}

// All probes every port and returns the devices that answered.
func (d *Detector) All() ([]Result, error) {
	ports, err := d.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, name := range ports {
		result, err := d.Probe(name)
		if err != nil {
			d.Logger.Debug("port skipped", "port", name, "error", err)
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// Probe resets the board on one port into its bootloader and identifies it.
func (d *Detector) Probe(name string) (*Result, error) {
	link, err := d.Open(name, d.BaudRate)
	if err != nil {
		return nil, err
	}
	defer link.Close()

	opts := d.Options
	opts.Logger = d.Logger
	f := flasher.NewWithOptions(link, opts)

	if err := link.ResetToBootloader(); err != nil {
		return nil, fmt.Errorf("failed to reset: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}

	id, err := f.ChipID()
	if err != nil {
		// Sync worked, so it is an ESP32 of some kind.
		d.Logger.Debug("chip id unavailable", "port", name, "error", err)
		return &Result{Port: name, ChipName: "ESP32 (unknown variant)"}, nil
	}
	return &Result{Port: name, ChipID: id, ChipName: protocol.ChipName(id)}, nil
}
