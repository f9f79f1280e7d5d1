package orchestrator

import (
	"strings"

	"github.com/taskforge/taskforge/internal/core"
)

// branchNameFor implements §4.3's naming convention:
// feature/<slug-of-title>-<first-8-chars-of-task-id>.
func branchNameFor(task *core.Task) string {
	slug := slugifyTitle(task.Title)
	if slug == "" {
		slug = "task"
	}
	suffix := string(task.ID)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "feature/" + slug + "-" + suffix
}

// slugifyTitle lowercases and hyphenates a task title for branch
// naming. It is deliberately separate from worktree's bare-clone-path
// slugify: that one slugs a repository URL, this one a title, and the
// two packages are not meant to share an implementation detail.
func slugifyTitle(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
