//go:build linux

package bleadapter

import (
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice() (ScanningDevice, error) {
	return linux.NewDevice()
}
