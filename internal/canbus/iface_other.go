//go:build !linux

package canbus

import "fmt"

func checkInterface(iface string) error {
	return fmt.Errorf("%w: %s: SocketCAN requires Linux", ErrInterfaceMissing, iface)
}
