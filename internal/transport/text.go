package transport

// defaultTextLimit is a conservative per-message size most chat platforms
// accept (Telegram caps at 4096).
const defaultTextLimit = 4000

// splitText splits long payloads into chunks safe to send as separate
// messages, preferring newline boundaries near the end of each window so
// combined announce payloads break between blocks rather than mid-line.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = defaultTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			// Prefer a newline, but avoid producing tiny chunks.
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}
