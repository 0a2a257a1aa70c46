package integrations

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestDryRunPublishIDs(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	li := NewLinkedInClient("", "", "", "", "", true, log)
	id, err := li.Publish(ctx, "content", "key", true)
	if err != nil {
		t.Fatalf("dry-run publish: %v", err)
	}
	if !strings.HasPrefix(id, "li_dry_") || len(id) != len("li_dry_")+10 {
		t.Errorf("unexpected linkedin dry-run id %q", id)
	}

	x := NewXClient("", "", "", "", true, log)
	id, err = x.Publish(ctx, "content", "key", true)
	if err != nil {
		t.Fatalf("dry-run publish: %v", err)
	}
	if !strings.HasPrefix(id, "x_dry_") || len(id) != len("x_dry_")+10 {
		t.Errorf("unexpected x dry-run id %q", id)
	}

	// Dry-run verification always succeeds.
	_, found, err := li.Verify(ctx, "content")
	if err != nil || !found {
		t.Errorf("dry-run verify should pass, got found=%v err=%v", found, err)
	}
}

func TestHeldBackDispatchStaysDry(t *testing.T) {
	// A live-built client must still produce a dry id when the dispatcher
	// holds the platform back.
	ctx := context.Background()
	x := NewXClient("id", "secret", "token", "", false, zap.NewNop())
	id, err := x.Publish(ctx, "content", "key", false)
	if err != nil {
		t.Fatalf("held-back publish: %v", err)
	}
	if !strings.HasPrefix(id, "x_dry_") {
		t.Errorf("held-back publish must return a dry id, got %q", id)
	}
}

func TestLivePublishRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	li := NewLinkedInClient("", "", "", "", "", false, zap.NewNop())
	if _, err := li.Publish(ctx, "content", "key", true); err == nil {
		t.Error("live publish without credentials must fail")
	}
}

func TestContentSnippet(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Title line\n\nBody text", "Title line"},
		{"  spaced   out   words  ", "spaced out words"},
		{strings.Repeat("a", 120), strings.Repeat("a", 80)},
	}
	for _, tt := range tests {
		if got := contentSnippet(tt.input); got != tt.want {
			t.Errorf("contentSnippet(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
