package ari

import "fmt"

// StatusError reports a non-2xx response from the ARI REST surface.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("ari: %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("ari: %s %s returned status %d", e.Method, e.Path, e.Status)
}

// Transient reports whether the failure is likely to clear on its own
// (engine restart, load shedding) rather than a request defect.
func (e *StatusError) Transient() bool {
	return e.Status >= 500
}

// ProtocolError reports a 2xx response whose body is missing a field the
// protocol requires, such as the id of a created channel or bridge.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ari: %s: %s", e.Op, e.Detail)
}
