// Package prompt expands named placeholders in prompt template bodies.
//
// Expansion is literal substring replacement. There is no escaping and no
// evaluation, and tokens that are not recognized stay in the output as-is.
package prompt

import (
	"sort"
	"strconv"
	"strings"
)

// Recognized placeholder tokens.
const (
	TokenLink        = "{youtube_link}"
	TokenTitle       = "{youtube_title}"
	TokenDescription = "{youtube_description}"
	TokenTags        = "{youtube_tags}"
	TokenUploader    = "{youtube_uploader}"
	TokenChannel     = "{youtube_channel}"
	TokenDuration    = "{youtube_duration}"
	TokenViewCount   = "{youtube_view_count}"
	TokenLikeCount   = "{youtube_like_count}"
)

// MinBodyLength is the minimum number of non-blank characters a template
// body must contain.
const MinBodyLength = 10

var tokens = []string{
	TokenLink,
	TokenTitle,
	TokenDescription,
	TokenTags,
	TokenUploader,
	TokenChannel,
	TokenDuration,
	TokenViewCount,
	TokenLikeCount,
}

// Metadata is the descriptive data substituted into a template. Zero values
// expand to the empty string.
type Metadata struct {
	Link        string
	Title       string
	Description string
	Tags        []string
	Uploader    string
	Channel     string
	Duration    float64
	ViewCount   int64
	LikeCount   int64
}

// Values returns the substitution value for every recognized token.
func (m Metadata) Values() map[string]string {
	return map[string]string{
		TokenLink:        m.Link,
		TokenTitle:       m.Title,
		TokenDescription: m.Description,
		TokenTags:        strings.Join(m.Tags, ", "),
		TokenUploader:    m.Uploader,
		TokenChannel:     m.Channel,
		TokenDuration:    formatDuration(m.Duration),
		TokenViewCount:   formatCount(m.ViewCount),
		TokenLikeCount:   formatCount(m.LikeCount),
	}
}

// Expand replaces every occurrence of each recognized token in template with
// the matching metadata value.
func Expand(template string, m Metadata) string {
	values := m.Values()
	pairs := make([]string, 0, len(tokens)*2)
	for _, tok := range tokens {
		pairs = append(pairs, tok, values[tok])
	}
	// Replacer scans the input once, so a substituted value that happens to
	// contain a token is not expanded again.
	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders lists the recognized tokens present in template, in the
// order they first appear.
func Placeholders(template string) []string {
	type hit struct {
		tok string
		pos int
	}
	var hits []hit
	for _, tok := range tokens {
		if i := strings.Index(template, tok); i >= 0 {
			hits = append(hits, hit{tok, i})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.tok
	}
	return out
}

// ValidBody reports whether body has at least MinBodyLength non-blank
// characters.
func ValidBody(body string) bool {
	return len([]rune(strings.TrimSpace(body))) >= MinBodyLength
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

func formatCount(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
