package transcript

import (
	"fmt"
	"strings"
)

// Format renders snippets as one timestamped line each, preserving order:
//
//	[00:12] first line
//	[01:05] second line
func Format(snippets []Snippet) string {
	var sb strings.Builder
	for i, s := range snippets {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(formatTimestamp(s.Start))
		sb.WriteByte(' ')
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}
