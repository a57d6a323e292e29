package repo

import (
	"regexp"
	"strings"
	"time"
)

// MaxSlugLength bounds the slug part of branch and worktree names.
const MaxSlugLength = 60

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts free text into a branch-safe slug: lowercase, runs of
// other characters collapsed to "-", trimmed, at most MaxSlugLength bytes.
// Returns "task" when nothing survives.
func Slugify(text string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		return "task"
	}
	return slug
}

// timestamp formats t in UTC the way branch names carry it.
func timestamp(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}

// BranchName composes <prefix>/<slug>-<YYYYMMDD-HHMMSS> using t in UTC.
func BranchName(prefix, slug string, t time.Time) string {
	return prefix + "/" + slug + "-" + timestamp(t)
}
