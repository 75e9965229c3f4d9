package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/orgimpact/pkg/schema"
)

// toJSON marshals a value to indented JSON for template rendering.
func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// timeAgo returns a human-readable relative time string.
// Accepts time.Time or *time.Time.
func timeAgo(v any) string {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return ""
		}
		t = *val
	default:
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// percent formats a share in [0,1] as "35%". Nil shows as "-".
func percent(v any) string {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case *float64:
		if val == nil {
			return "-"
		}
		f = *val
	default:
		return "-"
	}
	return fmt.Sprintf("%d%%", int(math.Round(f*100)))
}

// people formats a headcount.
func people(v any) string {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case *float64:
		if val == nil {
			return "-"
		}
		f = *val
	default:
		return "-"
	}
	return strconv.FormatFloat(math.Round(f), 'f', -1, 64)
}

// add returns a + b.
func add(a, b int) int { return a + b }

// subtract returns a - b, clamped to 0.
func subtract(a, b int) int {
	if a-b < 0 {
		return 0
	}
	return a - b
}

// statusBadge returns a CSS class name for a run status.
func statusBadge(status string) string {
	switch status {
	case "completed":
		return "badge-success"
	case "failed":
		return "badge-error"
	case "generating":
		return "badge-active"
	case "pending":
		return "badge-secondary"
	default:
		return "badge-secondary"
	}
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeImpactError maps err to an HTTP status and writes it with its code and
// details.
func writeImpactError(w http.ResponseWriter, err error) {
	var ie *schema.ImpactError
	if !errors.As(err, &ie) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"error": ie.Message, "code": ie.Code}
	if len(ie.Details) > 0 {
		body["details"] = ie.Details
	}
	writeJSON(w, httpStatus(ie.Code), body)
}

// httpStatus maps an error code to an HTTP status.
func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeInvalidOption:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case schema.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryList collects a comma-separated or repeated query param.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// clientIP is the rate-limit key of a request: the first X-Forwarded-For hop
// when present, otherwise the remote address without its port.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func itoa(n int) string { return strconv.Itoa(n) }
