package util

import "os"

// ReplicaName resolves the identity recorded on execution locks and load
// history rows. Priority: explicit config, POD_NAME (set by the k8s downward
// API), HOSTNAME, and finally os.Hostname.
func ReplicaName(configured string) string {
	if configured != "" {
		return configured
	}
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	if name := os.Getenv("HOSTNAME"); name != "" {
		return name
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
