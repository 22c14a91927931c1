//go:build !linux

package memory

func systemFree() int {
	return -1
}
