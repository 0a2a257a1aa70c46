// Package preflight runs stage-gated content validation before approval,
// scheduling and publish.
package preflight

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/social-scheduler/backend/internal/models"
)

// Validation stages
const (
	StagePreApproval = "pre_approval"
	StagePreSchedule = "pre_schedule"
	StagePrePublish  = "pre_publish"
)

type Result struct {
	OK     bool
	Errors []string
}

var maxLength = map[string]int{
	models.PlatformLinkedIn: 120_000,
	models.PlatformX:        25_000,
}

const defaultMaxLength = 25_000

var placeholderRe = regexp.MustCompile(`\{\{[^}]+\}\}`)

// ValidatePost checks non-empty content, platform max length, a two-line
// title+body shape with a minimum word count, unresolved template
// placeholders, and (at pre_publish only) the frozen approval hash.
func ValidatePost(post models.Post, stage string) Result {
	var errs []string
	content := strings.TrimSpace(post.Content)

	if content == "" {
		return Result{OK: false, Errors: []string{"content is empty"}}
	}

	limit, ok := maxLength[post.Platform]
	if !ok {
		limit = defaultMaxLength
	}
	if len(content) > limit {
		errs = append(errs, fmt.Sprintf("content exceeds max length for %s", post.Platform))
	}

	var lines []string
	for _, ln := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(ln); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 2 {
		errs = append(errs, "content must include title and body")
	} else {
		if len(lines[0]) < 5 {
			errs = append(errs, "title line too short")
		}
		if len(strings.Fields(strings.Join(lines[1:], " "))) < 20 {
			errs = append(errs, "body too short")
		}
	}

	if placeholderRe.MatchString(content) {
		errs = append(errs, "unresolved template placeholders detected")
	}

	if stage == StagePrePublish {
		if post.ApprovedContentHash == nil || *post.ApprovedContentHash == "" {
			errs = append(errs, "approved_content_hash missing")
		}
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}
