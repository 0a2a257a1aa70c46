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

// XClient publishes tweets via the v2 API.
type XClient struct {
	clientID     string
	clientSecret string
	accessToken  string
	dryRun       bool

	httpClient *http.Client
	verifier   *pageVerifier
	log        *zap.Logger
}

func NewXClient(clientID, clientSecret, accessToken, publicPageURL string, dryRun bool, log *zap.Logger) *XClient {
	return &XClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		accessToken:  accessToken,
		dryRun:       dryRun,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verifier: newPageVerifier(publicPageURL, log),
		log:      log,
	}
}

func (c *XClient) Platform() string { return models.PlatformX }

func (c *XClient) Publish(ctx context.Context, content, idempotencyKey string, live bool) (string, error) {
	if c.dryRun || !live {
		id := dryRunID("x_dry_")
		c.log.Info("dry-run publish", zap.String("platform", c.Platform()), zap.String("external_id", id))
		return id, nil
	}
	if c.clientID == "" || c.clientSecret == "" || c.accessToken == "" {
		return "", fmt.Errorf("x credentials not configured: invalid token")
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.x.com/2/tweets", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("x api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("x api returned %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Data.ID == "" {
		return "", fmt.Errorf("x api response missing tweet id")
	}
	return result.Data.ID, nil
}

func (c *XClient) Verify(ctx context.Context, content string) (string, bool, error) {
	if c.dryRun {
		return "", true, nil
	}
	found, err := c.verifier.contains(ctx, content)
	return "", found, err
}
