//go:build darwin

package adapter

import (
	"golang.org/x/sys/unix"
)

// utunControlName is the fixed name the kernel registers the utun driver's
// control under; the numeric control ID behind it is assigned dynamically
// and isn't stable across reboots.
const utunControlName = "com.apple.net.utun_control"

// InterfaceName recovers the kernel-assigned utun interface name (e.g.
// "utun7") without knowing in advance which file descriptor the platform
// provider's virtual interface lives on: it scans the low file descriptor
// range for an AF_SYSTEM control socket bound to the utun control ID and
// reads the name back via the UTUN_OPT_IFNAME socket option. Best-effort:
// a failure here never affects the tunnel's operation, only diagnostics,
// and a miss just means none of the scanned descriptors matched.
func (a *Adapter) InterfaceName() (string, bool) {
	id, err := utunControlID()
	if err != nil {
		a.log.Debug("utun control id lookup failed", nil, "error", err)
		return "", false
	}

	for fd := 0; fd < 1024; fd++ {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			continue
		}
		ctl, ok := sa.(*unix.SockaddrCtl)
		if !ok || ctl.ID != id {
			continue
		}
		name, err := unix.GetsockoptString(fd, 2 /* SYSPROTO_CONTROL */, 2 /* UTUN_OPT_IFNAME */)
		if err != nil || name == "" {
			continue
		}
		return name, true
	}
	return "", false
}

// utunControlID resolves the kernel control ID registered for the utun
// driver by name, via a throwaway AF_SYSTEM socket and a CTLIOCGINFO
// ioctl.
func utunControlID() (uint32, error) {
	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, unix.SYSPROTO_CONTROL)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	var info unix.CtlInfo
	copy(info.Name[:], utunControlName)
	if err := unix.IoctlCtlInfo(fd, &info); err != nil {
		return 0, err
	}
	return info.Id, nil
}
