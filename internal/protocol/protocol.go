// Package protocol defines the line-oriented wire format spoken between the
// host controller and the stepper device: move commands, the abort token,
// status records, abort acknowledgements and diagnostics.
package protocol

import (
	"fmt"
	"strings"
)

// Fixed wire literals.
const (
	AbortToken = "STOP"
	AckLine    = "EMERGENCY STOP"
	DiagPrefix = "bad cmd: "
	Banner     = "connected"
	statusTag  = "STATUS"
)

// AbortLine is the host's abort message, including its terminator.
var AbortLine = []byte(`["STOP"]` + "\n")

// AxisID selects a physical axis. The numeric values are the wire "motor" field.
type AxisID int

const (
	Elevation AxisID = 0
	Azimuth   AxisID = 1
)

// Axes lists both axes in status order (azimuth first).
var Axes = [...]AxisID{Azimuth, Elevation}

func (a AxisID) String() string {
	switch a {
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ParseAxis accepts "azimuth"/"az" and "elevation"/"el".
func ParseAxis(s string) (AxisID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "azimuth", "az":
		return Azimuth, nil
	case "elevation", "el", "alt":
		return Elevation, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// IsAbort reports whether a line carries the abort keyword, bare or wrapped
// (`STOP`, `"STOP"`, `["STOP"]`).
func IsAbort(line string) bool {
	return strings.Contains(line, AbortToken)
}

// Kind classifies a device->host line.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindAck
	KindDiag
	KindBanner
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindAck:
		return "ack"
	case KindDiag:
		return "diagnostic"
	case KindBanner:
		return "banner"
	default:
		return "unknown"
	}
}

// Classify returns the kind of a device->host line.
func Classify(line string) Kind {
	line = strings.TrimSpace(line)
	switch {
	case strings.Contains(line, AckLine):
		return KindAck
	case strings.HasPrefix(line, strings.TrimSpace(DiagPrefix)):
		return KindDiag
	case line == Banner:
		return KindBanner
	}
	if _, ok := ParseStatus(line); ok {
		return KindStatus
	}
	return KindUnknown
}

// Diagnostic formats the device's echo of an unparsable line.
func Diagnostic(line string) string {
	return DiagPrefix + strings.TrimRight(line, "\r\n")
}
