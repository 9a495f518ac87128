package canbus

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// linkCommands returns the ip(8) invocations that (re)configure iface.
func linkCommands(iface string, bitrate int) [][]string {
	return [][]string{
		{"ip", "link", "set", iface, "down"},
		{"ip", "link", "set", iface, "type", "can", "bitrate", strconv.Itoa(bitrate)},
		{"ip", "link", "set", iface, "up"},
	}
}

// bringUpLink sets the bitrate and raises the interface. It needs
// CAP_NET_ADMIN.
func bringUpLink(ctx context.Context, iface string, bitrate int) error {
	if bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %d", bitrate)
	}
	for _, args := range linkCommands(iface, bitrate) {
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
