//go:build !unix

package api

import "runtime"

func platform() (string, string) {
	return runtime.GOOS, ""
}
