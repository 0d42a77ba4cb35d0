package builtins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/artificer-ai/artificer/pkg/tool"
)

const (
	fetchMaxBodyBytes = 1 << 20 // read at most 1 MiB off the wire
	fetchMaxChars     = 3000
)

func fetchURLSchema() tool.Schema {
	return tool.Schema{
		Name:        "fetch_url",
		Description: "Fetches a web page and returns its text content, stripped of HTML and truncated.",
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "The http(s) URL to fetch", Required: true},
		},
	}
}

func fetchURLHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		rawURL, err := stringArg(params, "url")
		if err != nil {
			return nil, err
		}

		// Domain policy applies before anything leaves the process.
		if verdict := deps.Security.IsDomainAllowed(rawURL); !verdict.Allowed {
			return nil, fmt.Errorf("fetch blocked: %s", verdict.Reason)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		req.Header.Set("User-Agent", "artificer/1.0")

		resp, err := deps.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch failed: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		text := stripHTMLTags(string(body))

		runes := []rune(text)
		if len(runes) > fetchMaxChars {
			return string(runes[:fetchMaxChars]) + "...(truncated)", nil
		}
		return text, nil
	}
}

// stripHTMLTags drops everything between < and > and collapses the
// remaining whitespace. Crude, but enough to hand page text to a model.
func stripHTMLTags(html string) string {
	var b strings.Builder
	inTag := false

	for _, c := range html {
		switch {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(c)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
