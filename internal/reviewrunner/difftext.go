package reviewrunner

import (
	"fmt"
	"strings"

	"github.com/coderisk/reviewcore/internal/vcs"
)

// RenderDiffForModel renders diff into the wire shape the review model
// prompt expects: unified-diff file and hunk headers survive so the
// model can orient itself, but within a hunk only added and removed
// lines survive, each added line annotated with its new-file line
// number so the model's comments can cite a concrete,
// diff-line-validatable position. Unchanged context lines are dropped
// entirely — they add tokens without adding anything the model needs
// to decide where to comment. Output is truncated at maxChars on a
// whole-file boundary where possible, with a trailing note telling the
// model how many files were left out so it knows its view is partial.
func RenderDiffForModel(diff *vcs.Diff, maxChars int) string {
	rendered := make([]string, len(diff.Files))
	for i, f := range diff.Files {
		rendered[i] = renderDiffFile(f)
	}

	full := strings.Join(rendered, "")
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}

	var b strings.Builder
	included := 0
	for _, chunk := range rendered {
		if b.Len()+len(chunk) > maxChars && included > 0 {
			break
		}
		b.WriteString(chunk)
		included++
		if b.Len() >= maxChars {
			break
		}
	}

	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}

	remaining := len(rendered) - included
	return out + fmt.Sprintf("\n... [truncated; %d file(s) omitted to fit the context budget]\n", remaining)
}

func renderDiffFile(f vcs.DiffFile) string {
	oldPath := f.OldPath
	if oldPath == "" {
		oldPath = f.Path
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldPath, f.Path)

	for _, h := range f.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		newLine := h.NewStart
		for _, line := range h.Lines {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				fmt.Fprintf(&b, "[Line %d] +%s\n", newLine, line[1:])
				newLine++
			case '-':
				fmt.Fprintf(&b, "-%s\n", line[1:])
			default:
				newLine++
			}
		}
	}
	return b.String()
}
