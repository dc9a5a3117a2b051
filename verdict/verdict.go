// Package verdict holds the status and outcome code shared by every
// section of a report.
package verdict

// Status is the verdict of one check.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusError:
		return true
	}
	return false
}

// Code identifies the outcome of a check, e.g. "spf:ok".
type Code string
