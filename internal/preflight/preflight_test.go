package preflight

import (
	"strings"
	"testing"

	"github.com/social-scheduler/backend/internal/models"
)

const validContent = "Launch update\n\n" +
	"We shipped the new onboarding flow this week and early numbers look strong " +
	"across both cohorts with activation up measurably since the rollout began."

func TestValidatePost(t *testing.T) {
	tests := []struct {
		name    string
		post    models.Post
		stage   string
		ok      bool
		errHint string
	}{
		{
			name:  "valid pre approval",
			post:  models.Post{Platform: models.PlatformLinkedIn, Content: validContent},
			stage: StagePreApproval,
			ok:    true,
		},
		{
			name:    "empty content",
			post:    models.Post{Platform: models.PlatformX, Content: "   \n  "},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "empty",
		},
		{
			name:    "missing body",
			post:    models.Post{Platform: models.PlatformX, Content: "Just a title"},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "title and body",
		},
		{
			name:    "short title",
			post:    models.Post{Platform: models.PlatformX, Content: "Hey\n\n" + strings.Repeat("word ", 25)},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "title line too short",
		},
		{
			name:    "body under twenty words",
			post:    models.Post{Platform: models.PlatformX, Content: "Launch update\n\nshort body only"},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "body too short",
		},
		{
			name:    "unresolved placeholder",
			post:    models.Post{Platform: models.PlatformX, Content: "Launch update\n\n" + strings.Repeat("word ", 25) + "{{cta_link}}"},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "placeholder",
		},
		{
			name:    "over platform limit",
			post:    models.Post{Platform: models.PlatformX, Content: "Launch update\n\n" + strings.Repeat("wordy ", 6000)},
			stage:   StagePreApproval,
			ok:      false,
			errHint: "max length",
		},
		{
			name:    "pre publish requires frozen hash",
			post:    models.Post{Platform: models.PlatformLinkedIn, Content: validContent},
			stage:   StagePrePublish,
			ok:      false,
			errHint: "approved_content_hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePost(tt.post, tt.stage)
			if result.OK != tt.ok {
				t.Fatalf("OK = %v, want %v (errors: %v)", result.OK, tt.ok, result.Errors)
			}
			if !tt.ok {
				joined := strings.Join(result.Errors, "; ")
				if !strings.Contains(joined, tt.errHint) {
					t.Errorf("errors %q missing hint %q", joined, tt.errHint)
				}
			}
		})
	}
}

func TestValidatePostPrePublishWithHash(t *testing.T) {
	hash := "deadbeef"
	post := models.Post{
		Platform:            models.PlatformLinkedIn,
		Content:             validContent,
		ApprovedContentHash: &hash,
	}
	if result := ValidatePost(post, StagePrePublish); !result.OK {
		t.Errorf("expected pass with frozen hash, got %v", result.Errors)
	}
}
