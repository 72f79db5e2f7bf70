//go:build linux

package api

import "github.com/joho/godotenv"

// osReleasePath is the distribution identification file.
var osReleasePath = "/etc/os-release"

// platform reports the distribution name and version, falling back to the
// kernel identity when os-release is unreadable.
func platform() (string, string) {
	release, err := godotenv.Read(osReleasePath)
	if err == nil && release["NAME"] != "" {
		return release["NAME"], release["VERSION_ID"]
	}
	return uname()
}
