package builtin

// truncationMarker is appended whenever tool output is cut at its byte limit.
const truncationMarker = "\n...[output truncated]..."

// truncateTail keeps the first limit bytes of s and appends the marker. The
// head of the output is kept because commands usually front-load diagnostics.
func truncateTail(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return s[:limit] + truncationMarker, true
}
