package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PublishClient is one platform connector. Publish returns the external
// post ID; live=false forces a dry-run dispatch regardless of how the
// client was built, so the staged rollout can hold a platform back without
// rebuilding clients. Verify answers whether content actually landed on
// the public page, used to resolve ambiguous publish outcomes; the
// returned ID is empty when the page cannot reveal the platform's own ID.
type PublishClient interface {
	Platform() string
	Publish(ctx context.Context, content, idempotencyKey string, live bool) (string, error)
	Verify(ctx context.Context, content string) (string, bool, error)
}

func dryRunID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}

// pageVerifier scrapes a public profile page and looks for a snippet of
// the published content.
type pageVerifier struct {
	pageURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func newPageVerifier(pageURL string, log *zap.Logger) *pageVerifier {
	return &pageVerifier{
		pageURL: pageURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (v *pageVerifier) contains(ctx context.Context, content string) (bool, error) {
	if v.pageURL == "" {
		return false, fmt.Errorf("no public page configured for verification")
	}

	var doc *goquery.Document
	var lastErr error
	for attempt := 0; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.pageURL, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, v.pageURL)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		break
	}
	if doc == nil {
		return false, fmt.Errorf("failed to fetch %s: %w", v.pageURL, lastErr)
	}

	snippet := contentSnippet(content)
	found := false
	doc.Find("article, div, p, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(normalizeSpace(s.Text()), snippet) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

// contentSnippet takes the first line of the post, trimmed to a length
// short enough to survive truncated previews.
func contentSnippet(content string) string {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx > 0 {
		line = content[:idx]
	}
	line = normalizeSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
