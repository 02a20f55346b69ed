// Package escalate maps monitoring severities to ticket priorities.
package escalate

import "strings"

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var severityPriority = map[string]string{
	"disaster":       PriorityHigh,
	"high":           PriorityHigh,
	"average":        PriorityNormal,
	"warning":        PriorityNormal,
	"information":    PriorityLow,
	"not_classified": PriorityLow,
}

// PriorityForSeverity returns the ticket priority for a monitoring
// severity. Unrecognized severities map to normal.
func PriorityForSeverity(severity string) string {
	if p, ok := severityPriority[strings.ToLower(severity)]; ok {
		return p
	}
	return PriorityNormal
}
