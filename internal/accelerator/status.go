package accelerator

import (
	"regexp"
	"strings"
)

// Status is the closed sum the Accelerator's free-text status maps to.
type Status string

const (
	StatusOnline             Status = "Online"
	StatusMaintenanceMode    Status = "MaintenanceMode"
	StatusSnapshotInProgress Status = "SnapshotInProgress"
	StatusUnknown            Status = "Unknown"
)

var whitespace = regexp.MustCompile(`\s+`)

// ParseStatus normalizes whitespace and case before matching the free-text
// Status field reported by the Accelerator.
func ParseStatus(raw string) Status {
	normalized := strings.ToLower(whitespace.ReplaceAllString(strings.TrimSpace(raw), " "))

	switch normalized {
	case "online":
		return StatusOnline
	case "maintenance mode":
		return StatusMaintenanceMode
	case "snapshot in progress":
		return StatusSnapshotInProgress
	default:
		return StatusUnknown
	}
}
