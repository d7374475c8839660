// Package health aggregates the runtime condition of the bridge's parts
// for the health endpoint.
package health

import (
	"regexp"
	"time"
)

// Pre-compiled regexes for message sanitization
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Condition names used in Status.Status
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// Status represents the health state of one part of the bridge
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == Healthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == Degraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == Unhealthy
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// NewStatus builds a status for a component, sanitizing the message so
// endpoint consumers never see internal addresses or credentials.
func NewStatus(component, condition, message string) Status {
	return Status{
		Component: component,
		Healthy:   condition == Healthy,
		Status:    condition,
		Message:   sanitizeMessage(message),
		Timestamp: time.Now().UTC(),
	}
}

// sanitizeMessage removes potentially sensitive information: URLs,
// file paths, IP addresses and anything that looks like a credential.
func sanitizeMessage(msg string) string {
	if msg == "" {
		return msg
	}
	msg = credentialRegex.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = httpURLRegex.ReplaceAllString(msg, "[URL]")
	msg = natsURLRegex.ReplaceAllString(msg, "[URL]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	return msg
}
