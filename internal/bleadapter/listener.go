package bleadapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// interScanPause is the radio idle time between scan windows. The Pill
// broadcasts continuously, so listening in bursts is enough and keeps the
// adapter free for other users between windows.
const interScanPause = 10 * time.Second

// ScanningDevice is the slice of ble.Device the listener needs.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// DeviceFactory creates the platform BLE device (can be overridden in tests)
var DeviceFactory = func() (ScanningDevice, error) {
	return newPlatformDevice()
}

// Handler receives one advertisement: the source address and the
// manufacturer-specific payloads keyed by company ID.
type Handler func(addr string, manufacturerData map[uint16][]byte)

// Listener runs duty-cycled BLE scans and forwards every advertisement
// carrying manufacturer data to the handler. Filtering by vendor and address
// is the handler's job; the listener only owns the radio schedule.
type Listener struct {
	logger  *logrus.Logger
	window  time.Duration
	handler Handler
}

// NewListener creates a listener that scans for the given window per cycle.
func NewListener(window time.Duration, handler Handler, logger *logrus.Logger) *Listener {
	if logger == nil {
		logger = logrus.New()
	}
	if handler == nil {
		handler = func(string, map[uint16][]byte) {}
	}
	return &Listener{
		logger:  logger,
		window:  window,
		handler: handler,
	}
}

// Run scans until the context is cancelled. Each cycle listens for the
// configured window and then parks the radio for interScanPause. A nil error
// means the context ended the run.
func (l *Listener) Run(ctx context.Context) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	l.logger.WithField("window", l.window).Info("Starting BLE listener")

	for {
		scanCtx, cancel := context.WithTimeout(ctx, l.window)
		err := dev.Scan(scanCtx, true, l.onAdvertisement)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("scan failed: %w", err)
		}

		select {
		case <-ctx.Done():
			l.logger.Info("BLE listener stopped")
			return nil
		case <-time.After(interScanPause):
		}
	}
}

func (l *Listener) onAdvertisement(adv ble.Advertisement) {
	data := ExtractManufacturerData(adv.ManufacturerData())
	if data == nil {
		return
	}
	l.handler(adv.Addr().String(), data)
}

// ExtractManufacturerData splits raw advertisement bytes into the company ID
// (first two bytes, little-endian per BLE convention) and the vendor payload.
// Returns nil when the data is too short to carry a company ID.
func ExtractManufacturerData(raw []byte) map[uint16][]byte {
	if len(raw) < 2 {
		return nil
	}
	return map[uint16][]byte{binary.LittleEndian.Uint16(raw[0:2]): raw[2:]}
}
