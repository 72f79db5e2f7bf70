//go:build unix && !linux

package api

func platform() (string, string) {
	return uname()
}
