package instance

import (
	"os"

	"github.com/angelmondragon/catalog-media/pkg/env"
)

const workerIDKey = "WORKER_ID"

// GetID names this replica in logs. It falls back to the hostname, then to a fixed id.
func GetID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker-0"
	}
	return env.Service(workerIDKey, host)
}
