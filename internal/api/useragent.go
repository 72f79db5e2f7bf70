package api

import "fmt"

// UserAgent returns "<clientName> (<vendor>; <vendor version>)" for the
// running platform.
func UserAgent(clientName string) string {
	vendor, version := platform()
	return fmt.Sprintf("%s (%s; %s)", clientName, vendor, version)
}
