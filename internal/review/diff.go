package review

import (
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is one changed region in a line-level diff, grouped the way a
// unified diff would render it: a run of equal lines is never itself a
// hunk, only the deletions/insertions around it are.
type Hunk struct {
	OldStart int
	OldLines []string
	NewStart int
	NewLines []string
}

// LineDiff computes a line-level diff between oldText and newText, used
// to build the conflict_context shown to a reviewer when their edit no
// longer applies cleanly (the task's branch moved under them) and as the
// diff preview on a reviewer-edit commit.
func LineDiff(oldText, newText string) []Hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 2

	oldLines, newLines, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(oldLines, newLines, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	dmp.DiffCleanupSemantic(diffs)

	var hunks []Hunk
	var cur *Hunk
	oldLine, newLine := 1, 1
	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			oldLine += len(lines)
			newLine += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &Hunk{OldStart: oldLine, NewStart: newLine}
			}
			cur.OldLines = append(cur.OldLines, lines...)
			oldLine += len(lines)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &Hunk{OldStart: oldLine, NewStart: newLine}
			}
			cur.NewLines = append(cur.NewLines, lines...)
			newLine += len(lines)
		}
	}
	flush()
	return hunks
}

// ConflictContext renders a compact textual summary of the hunks around a
// reviewer's edit that no longer applies, the shape surfaced to the
// reviewer as review_comments.body context when a merge_failed edit needs
// manual reconciliation.
func ConflictContext(oldText, newText string, contextLines int) string {
	hunks := LineDiff(oldText, newText)
	if len(hunks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hunks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("@@ -")
		b.WriteString(strconv.Itoa(h.OldStart))
		b.WriteString(",")
		b.WriteString(strconv.Itoa(len(h.OldLines)))
		b.WriteString(" +")
		b.WriteString(strconv.Itoa(h.NewStart))
		b.WriteString(",")
		b.WriteString(strconv.Itoa(len(h.NewLines)))
		b.WriteString(" @@\n")
		for _, l := range h.OldLines {
			b.WriteString("-")
			b.WriteString(l)
			b.WriteString("\n")
		}
		for _, l := range h.NewLines {
			b.WriteString("+")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
