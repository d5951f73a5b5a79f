// Package patch provides unified-diff plumbing for the pipeline.
//
// Proposals carry their change as a unified diff. This package parses that
// text, computes change statistics, and applies file diffs to artifact
// content held in memory. Nothing here touches the repository; callers decide
// where patched content goes.
package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Stats summarizes a parsed diff.
type Stats struct {
	FilesChanged int
	LinesAdded   int
	LinesDeleted int
}

// Parse parses a unified diff covering one or more files.
func Parse(patch string) ([]*diff.FileDiff, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, fmt.Errorf("empty diff")
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("diff contains no files")
	}
	return fileDiffs, nil
}

// ComputeStats counts touched files and added/deleted lines.
func ComputeStats(fileDiffs []*diff.FileDiff) Stats {
	stats := Stats{FilesChanged: len(fileDiffs)}

	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.LinesAdded++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.LinesDeleted++
				}
			}
		}
	}

	return stats
}

// Path returns the artifact path a file diff targets, with git's a/ b/
// prefixes stripped. Deletions report the original name.
func Path(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// AddedLines returns the added lines of a file diff, one string per line.
func AddedLines(fd *diff.FileDiff) []string {
	var lines []string
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
				lines = append(lines, strings.TrimPrefix(line, "+"))
			}
		}
	}
	return lines
}

// RemovedLines returns the removed lines of a file diff, one string per line.
func RemovedLines(fd *diff.FileDiff) []string {
	var lines []string
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
				lines = append(lines, strings.TrimPrefix(line, "-"))
			}
		}
	}
	return lines
}

// Apply applies a file diff to the original content and returns the patched
// content. The second return is true when the diff deletes the file. Context
// and removal lines are verified against the original; a mismatch means the
// diff does not apply cleanly.
func Apply(original string, fd *diff.FileDiff) (string, bool, error) {
	if fd.NewName == "/dev/null" {
		return "", true, nil
	}

	if fd.OrigName == "/dev/null" || original == "" {
		// New file: content is exactly the added lines.
		return strings.Join(AddedLines(fd), "\n"), false, nil
	}

	origLines := strings.Split(original, "\n")
	newLines := make([]string, 0, len(origLines))

	origIdx := 0
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunkStart > len(origLines) {
			return "", false, fmt.Errorf("hunk starts at line %d beyond end of file (%d lines)",
				hunk.OrigStartLine, len(origLines))
		}

		// Copy untouched lines before this hunk.
		for origIdx < hunkStart && origIdx < len(origLines) {
			newLines = append(newLines, origLines[origIdx])
			origIdx++
		}

		bodyLines := strings.Split(string(hunk.Body), "\n")
		if n := len(bodyLines); n > 0 && bodyLines[n-1] == "" {
			bodyLines = bodyLines[:n-1]
		}

		for _, line := range bodyLines {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				newLines = append(newLines, strings.TrimPrefix(line, "+"))
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				want := strings.TrimPrefix(line, "-")
				if origIdx >= len(origLines) || origLines[origIdx] != want {
					return "", false, fmt.Errorf("removal mismatch at line %d: diff expects %q", origIdx+1, want)
				}
				origIdx++
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file" marker.
			default:
				// Context line. Some emitters strip the leading space on
				// empty context lines, so "" is treated as empty context.
				want := strings.TrimPrefix(line, " ")
				if origIdx >= len(origLines) || origLines[origIdx] != want {
					return "", false, fmt.Errorf("context mismatch at line %d: diff expects %q", origIdx+1, want)
				}
				newLines = append(newLines, origLines[origIdx])
				origIdx++
			}
		}
	}

	// Copy remaining lines.
	for origIdx < len(origLines) {
		newLines = append(newLines, origLines[origIdx])
		origIdx++
	}

	return strings.Join(newLines, "\n"), false, nil
}
