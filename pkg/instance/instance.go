package instance

import (
	"os"
	"strings"
)

const envInstanceID = "TRADEHUB_INSTANCE_ID"

// GetID identifies this process among replicas: the configured instance id,
// else the hostname, else "worker-0".
func GetID() string {
	if id := strings.TrimSpace(os.Getenv(envInstanceID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
