package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/bigbag/papyrix-mtd/internal/config"
	"github.com/bigbag/papyrix-mtd/internal/flash"
	"github.com/bigbag/papyrix-mtd/internal/flasher"
	"github.com/bigbag/papyrix-mtd/internal/mtd"
	"github.com/bigbag/papyrix-mtd/internal/serial"
)

// device is an open block device plus whatever backs it.
type device struct {
	mtd.Device
	geo    mtd.Geometry
	board  *config.Board
	source string // image path or serial port name
	close  func() error
}

func (d *device) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadBoard() (*config.Board, error) {
	var (
		b   *config.Board
		err error
	)
	if configFlag != "" {
		b, err = config.Load(configFlag)
	} else {
		b, err = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if startFlag >= 0 {
		b.Flash.ReservedStart = uint32(startFlag)
	}
	if sizeFlag > 0 {
		b.Flash.ReservedSize = uint32(sizeFlag)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// openDevice opens the flash backend selected by --image or --port and
// puts the translator on top of it.
func openDevice(log *slog.Logger) (*device, error) {
	board, err := loadBoard()
	if err != nil {
		return nil, err
	}

	var (
		drv    mtd.RawFlash
		source string
		closer func() error
	)

	switch {
	case imageFlag != "" && portFlag != "":
		return nil, errors.New("--image and --port are mutually exclusive")

	case imageFlag != "":
		img, err := flash.OpenImage(imageFlag, board.Flash.Size, board.Flash.SectorShift)
		if err != nil {
			return nil, err
		}
		drv, source, closer = img, img.Path(), img.Close

	case portFlag != "":
		port, err := serial.Open(portFlag, baudFlag)
		if err != nil {
			return nil, err
		}
		opts := flasher.DefaultOptions()
		opts.Logger = log
		remote := flasher.NewWithOptions(port, opts)
		if err := remote.Connect(); err != nil {
			port.Close()
			return nil, err
		}
		r, err := flash.NewRemote(remote, board.Flash.Size, board.Flash.SectorShift,
			flash.WithCompression(compressFlag),
			flash.WithVerify(verifyFlag),
			flash.WithRemoteLogger(log),
		)
		if err != nil {
			port.Close()
			return nil, err
		}
		drv, source = r, port.PortName()
		closer = func() error {
			if rebootFlag {
				if err := remote.Reboot(); err != nil {
					log.Warn("reboot failed", "error", err)
				}
			}
			return port.Close()
		}

	default:
		return nil, errors.New("one of --image or --port is required")
	}

	t, err := mtd.New(drv, board.MTD(), mtd.WithLogger(log))
	if err != nil {
		closer()
		return nil, err
	}
	return &device{
		Device: mtd.Locked(t),
		geo:    t.Geometry(),
		board:  board,
		source: source,
		close:  closer,
	}, nil
}

func parseNumber(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return n, nil
}
