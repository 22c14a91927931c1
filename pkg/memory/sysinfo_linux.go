//go:build linux

package memory

import "golang.org/x/sys/unix"

// systemFree returns free RAM in bytes as reported by sysinfo(2), or -1.
func systemFree() int {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return -1
	}
	return int(uint64(info.Freeram) * uint64(info.Unit))
}
