package extract

import (
	"log/slog"
	"net/url"
	"strings"
)

// Placeholder replaces URL tokens in a description.
const Placeholder = "[url]"

// Result holds the tokens of a parsed message.
type Result struct {
	URLs        []string
	Description []string
	Original    string
}

// Parse splits text on whitespace and separates URL tokens from the rest.
// URL tokens are collected in order and replaced by Placeholder in the
// description; all other tokens are kept verbatim.
func Parse(text string) Result {
	res := Result{
		URLs:        []string{},
		Description: []string{},
		Original:    text,
	}

	for _, tok := range strings.Fields(text) {
		if IsURL(tok) {
			res.URLs = append(res.URLs, tok)
			res.Description = append(res.Description, Placeholder)
			continue
		}
		res.Description = append(res.Description, tok)
	}

	return res
}

// IsURL reports whether tok parses as a URL with a scheme and a host.
func IsURL(tok string) bool {
	u, err := url.Parse(tok)
	if err != nil {
		slog.Debug("token is not a url", "token", tok, "error", err)
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
