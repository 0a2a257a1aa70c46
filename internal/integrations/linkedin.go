package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/social-scheduler/backend/internal/models"
	"go.uber.org/zap"
)

// LinkedInClient publishes UGC posts. In dry-run mode no network call is
// made and a synthetic external ID is returned.
type LinkedInClient struct {
	clientID     string
	clientSecret string
	accessToken  string
	authorURN    string
	dryRun       bool

	httpClient *http.Client
	verifier   *pageVerifier
	log        *zap.Logger
}

func NewLinkedInClient(clientID, clientSecret, accessToken, authorURN, publicPageURL string, dryRun bool, log *zap.Logger) *LinkedInClient {
	return &LinkedInClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		accessToken:  accessToken,
		authorURN:    authorURN,
		dryRun:       dryRun,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verifier: newPageVerifier(publicPageURL, log),
		log:      log,
	}
}

func (c *LinkedInClient) Platform() string { return models.PlatformLinkedIn }

func (c *LinkedInClient) Publish(ctx context.Context, content, idempotencyKey string, live bool) (string, error) {
	if c.dryRun || !live {
		id := dryRunID("li_dry_")
		c.log.Info("dry-run publish", zap.String("platform", c.Platform()), zap.String("external_id", id))
		return id, nil
	}
	if c.clientID == "" || c.clientSecret == "" || c.accessToken == "" {
		return "", fmt.Errorf("linkedin credentials not configured: invalid token")
	}

	body, err := json.Marshal(map[string]any{
		"author":         c.authorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": content},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.linkedin.com/v2/ugcPosts", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("linkedin api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("linkedin api returned %d: %s", resp.StatusCode, string(b))
	}

	if id := resp.Header.Get("X-Restli-Id"); id != "" {
		return id, nil
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.ID == "" {
		return "", fmt.Errorf("linkedin api response missing post id")
	}
	return result.ID, nil
}

func (c *LinkedInClient) Verify(ctx context.Context, content string) (string, bool, error) {
	if c.dryRun {
		return "", true, nil
	}
	found, err := c.verifier.contains(ctx, content)
	return "", found, err
}
