package api

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"drivesim/pkg/logging"
)

// Matches key=value and key="quoted value" pairs of slog's text format.
var logAttrRe = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// Attribute values longer than this are left out of condensed log lines.
const maxAttrLen = 20

// handleLatestLog returns the last INFO+ server log line, condensed.
// GET /api/log/latest
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"log": condenseLogLine(logging.LastLog.Last())})
}

// handleLatestEvent returns the last trip event line.
// GET /api/events/latest
func handleLatestEvent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"event": logging.LastEvent.Last()})
}

// condenseLogLine turns an slog text line into "15:04:05 msg (k=v, ...)"
// with attributes sorted and the level dropped. Lines without a msg are
// returned unchanged.
func condenseLogLine(raw string) string {
	var msg, clock string
	var attrs []string

	for _, m := range logAttrRe.FindAllStringSubmatch(raw, -1) {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				clock = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		default:
			if len(val) <= maxAttrLen {
				attrs = append(attrs, key+"="+val)
			}
		}
	}

	if msg == "" {
		return raw
	}

	out := msg
	if clock != "" {
		out = clock + " " + msg
	}
	if len(attrs) > 0 {
		sort.Strings(attrs)
		out += " (" + strings.Join(attrs, ", ") + ")"
	}
	return out
}
