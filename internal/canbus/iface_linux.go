//go:build linux

package canbus

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const canRaw = 1

// checkInterface fails fast when the interface does not exist, instead of
// letting the driver fail later with a less helpful bind error.
func checkInterface(iface string) error {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return fmt.Errorf("create CAN socket: %w", err)
	}
	defer unix.Close(fd)

	ifreq, err := unix.NewIfreq(iface)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInterfaceMissing, iface, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInterfaceMissing, iface, err)
	}
	return nil
}
