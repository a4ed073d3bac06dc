package instance

import "os"

// GetID returns the process instance identifier. SAFMARKET_INSTANCE_ID wins
// over the platform-provided DYNO name.
func GetID() string {
	for _, key := range []string{"SAFMARKET_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
