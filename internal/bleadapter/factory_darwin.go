//go:build darwin

package bleadapter

import (
	"github.com/go-ble/ble/darwin"
)

func newPlatformDevice() (ScanningDevice, error) {
	return darwin.NewDevice()
}
