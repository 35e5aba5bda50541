package services

import (
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultCensorWords is the built-in denylist for public listing text.
var DefaultCensorWords = []string{
	"fuck",
	"shit",
	"bitch",
	"scam",
	"блять",
	"сука",
	"хуй",
}

const DefaultCensorMask = "***"

// Censor masks denylisted substrings, case-insensitively. It is a
// best-effort filter and trivially bypassed with spacing or homoglyphs.
type Censor struct {
	pattern *regexp.Regexp
	mask    string
}

func NewCensor(words []string, mask string) *Censor {
	if len(words) == 0 {
		words = DefaultCensorWords
	}
	if mask == "" {
		mask = DefaultCensorMask
	}

	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	// Longest first so "scammer" wins over "scam" when both are listed.
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	c := &Censor{mask: mask}
	if len(quoted) > 0 {
		c.pattern = regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))
	}
	return c
}

func (c *Censor) Apply(s string) string {
	if c.pattern == nil {
		return s
	}
	return c.pattern.ReplaceAllLiteralString(s, c.mask)
}

// TextCleaner strips markup and surrounding space from free text. The
// result is plain text, so entities escaped by the policy are decoded.
type TextCleaner struct {
	policy *bluemonday.Policy
}

func NewTextCleaner() *TextCleaner {
	return &TextCleaner{policy: bluemonday.StrictPolicy()}
}

func (t *TextCleaner) Clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(t.policy.Sanitize(s)))
}
