package announce

import (
	"fmt"
	"strings"
)

// Summarize collapses all whitespace runs in text to single spaces and
// truncates the result to at most maxLen characters, suffixing an ellipsis
// when truncation happened. maxLen <= 0 means no length limit.
func Summarize(text string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxLen <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= maxLen {
		return collapsed
	}
	cut := strings.TrimRight(string(runes[:maxLen-1]), " ")
	return cut + "…"
}

// overflowNotice renders the drop-debt payload: how many announces were
// evicted plus their retained summaries, oldest first.
func overflowNotice(dropped int, summaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Queue overflow] Dropped %d announce(s) due to cap.", dropped)
	if len(summaries) > 0 {
		b.WriteString("\nSummary:")
		for _, s := range summaries {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// combinedPayload renders a collect-mode batch: a marker line, the overflow
// notice when debt is pending, then one labeled block per item in enqueue
// order.
func combinedPayload(items []Item, dropped int, summaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Queued announces: %d]", len(items))
	if dropped > 0 {
		b.WriteString("\n\n")
		b.WriteString(overflowNotice(dropped, summaries))
	}
	for i, it := range items {
		fmt.Fprintf(&b, "\n\nQueued #%d:\n%s", i+1, it.Text)
	}
	return b.String()
}
