// Package health classifies registry health checks and aggregates instance health.
package health

import (
	"regexp"
	"strings"
	"time"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of an instance or a group of instances
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{Component: component, Healthy: true, Status: "healthy", Message: message, Timestamp: time.Now()}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{Component: component, Status: "unhealthy", Message: message, Timestamp: time.Now()}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{Component: component, Status: "degraded", Message: message, Timestamp: time.Now()}
}

// Aggregate creates a status by aggregating sub-statuses.
// Any unhealthy child makes the aggregate unhealthy; otherwise any degraded
// child makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No instances to aggregate")
	}

	hasUnhealthy, hasDegraded := false, false
	unhealthy := 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
			unhealthy++
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy && unhealthy == len(subStatuses):
		status = NewUnhealthy(component, "All instances are defective")
	case hasUnhealthy, hasDegraded:
		status = NewDegraded(component, "One or more instances are defective")
	default:
		status = NewHealthy(component, "All instances are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

// FromChecks converts one instance's registry check results into a Status.
// The message carries the first non-passing check output, sanitized.
func FromChecks(instance string, state State, checks []Check) Status {
	if state == Healthy {
		return NewHealthy(instance, "All checks passing")
	}
	for _, c := range checks {
		if c.Status != CheckPassing {
			msg := c.Name + ": " + c.Status
			if out := sanitizeOutput(c.Output); out != "" {
				msg += " (" + out + ")"
			}
			return NewUnhealthy(instance, msg)
		}
	}
	return NewUnhealthy(instance, "No health checks registered")
}

// sanitizeOutput strips addresses and credentials from check output before
// it is shown to users.
func sanitizeOutput(out string) string {
	if out == "" {
		return ""
	}
	s := urlRegex.ReplaceAllString(out, "[URL]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")
	lower := strings.ToLower(s)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		s = credentialRegex.ReplaceAllString(s, "[REDACTED]")
	}
	return strings.TrimSpace(s)
}
