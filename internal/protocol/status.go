package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is one device position report. Axes is 2 for the usual pair and 1
// when the device reported a single integer (stored in Az).
type Status struct {
	Az   int64
	El   int64
	Axes int
}

// Position returns the reported position of axis a.
func (s Status) Position(a AxisID) int64 {
	if a == Azimuth {
		return s.Az
	}
	return s.El
}

// FormatStatus renders the device's status line for both axes.
func FormatStatus(az, el int64) string {
	return fmt.Sprintf("%s %d,%d", statusTag, az, el)
}

type structuredStatus struct {
	PosAz *int64 `json:"pos_az"`
	PosEl *int64 `json:"pos_el"`
}

// ParseStatus decodes "STATUS <az>,<el>", "STATUS <n>" or
// {"pos_az":<az>,"pos_el":<el>}.
func ParseStatus(line string) (Status, bool) {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "{") {
		var w structuredStatus
		if err := json.Unmarshal([]byte(line), &w); err != nil || w.PosAz == nil || w.PosEl == nil {
			return Status{}, false
		}
		return Status{Az: *w.PosAz, El: *w.PosEl, Axes: 2}, true
	}

	rest, ok := strings.CutPrefix(line, statusTag)
	if !ok {
		return Status{}, false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Status{}, false
	}

	azStr, elStr, pair := strings.Cut(rest, ",")
	az, err := strconv.ParseInt(strings.TrimSpace(azStr), 10, 64)
	if err != nil {
		return Status{}, false
	}
	if !pair {
		return Status{Az: az, Axes: 1}, true
	}
	el, err := strconv.ParseInt(strings.TrimSpace(elStr), 10, 64)
	if err != nil {
		return Status{}, false
	}
	return Status{Az: az, El: el, Axes: 2}, true
}
