package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

const userAgent = "ContentForge/1.0 (research)"

const maxBody = 5 << 20

// extract fetches a reference page and reduces it to a short readable note.
func (g *Gatherer) extract(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBody), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting content: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) < minExtractLn {
		return "", fmt.Errorf("no extractable content")
	}

	return fmt.Sprintf("%s (%s): %s", extractSourceName(pageURL), pageURL, truncate(text, extractLen)), nil
}
