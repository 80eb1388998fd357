package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the services read.
const Prefix = "TRADEHUB_"

// Get returns the prefixed variable, then the bare one, then fallback. The
// bare name keeps conventional variables like LOG_FORMAT working.
func Get(key, fallback string) string {
	name := strings.TrimPrefix(key, Prefix)
	if val := strings.TrimSpace(os.Getenv(Prefix + name)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}
