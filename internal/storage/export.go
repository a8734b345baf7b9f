package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportMarkdown renders submission history as a markdown document.
func ExportMarkdown(userID int64, subs []Submission) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Submissions for user %d\n\n", userID))
	if len(subs) == 0 {
		b.WriteString("_No submissions._\n")
		return b.String()
	}

	for _, s := range subs {
		b.WriteString(fmt.Sprintf("## Submission %d\n\n", s.ID))
		b.WriteString(fmt.Sprintf("- **Problem:** %d\n", s.ProblemID))
		b.WriteString(fmt.Sprintf("- **Status:** %s\n", s.Status))
		if s.ExecutionTime != nil {
			b.WriteString(fmt.Sprintf("- **Execution time:** %.3fs\n", *s.ExecutionTime))
		}
		b.WriteString(fmt.Sprintf("- **Submitted:** %s\n\n", s.SubmittedAt.Format("2006-01-02 15:04:05")))

		writeFenced(&b, s.Language, s.Code)

		if s.Output != "" {
			b.WriteString("<details>\n<summary>Output</summary>\n\n")
			writeFenced(&b, "", s.Output)
			b.WriteString("</details>\n\n")
		}
		if s.Error != "" {
			b.WriteString("<details>\n<summary>Error</summary>\n\n")
			writeFenced(&b, "", s.Error)
			b.WriteString("</details>\n\n")
		}
	}

	return b.String()
}

// writeFenced writes body as a fenced code block. The fence is longer than
// any backtick run in body so the block cannot be closed early.
func writeFenced(b *strings.Builder, lang, body string) {
	fence := strings.Repeat("`", max(3, longestRun(body, '`')+1))
	fmt.Fprintf(b, "%s%s\n%s\n%s\n\n", fence, lang, strings.TrimRight(body, "\n"), fence)
}

func longestRun(s string, c rune) int {
	longest, run := 0, 0
	for _, r := range s {
		if r != c {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return longest
}

type export struct {
	UserID      int64        `json:"user_id" yaml:"user_id"`
	Submissions []Submission `json:"submissions" yaml:"submissions"`
}

// ExportJSON renders submission history as formatted JSON.
func ExportJSON(userID int64, subs []Submission) ([]byte, error) {
	if subs == nil {
		subs = []Submission{}
	}
	return json.MarshalIndent(export{UserID: userID, Submissions: subs}, "", "  ")
}

// ExportYAML renders submission history as YAML.
func ExportYAML(userID int64, subs []Submission) ([]byte, error) {
	if subs == nil {
		subs = []Submission{}
	}
	return yaml.Marshal(export{UserID: userID, Submissions: subs})
}
