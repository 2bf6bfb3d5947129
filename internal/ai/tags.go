package ai

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Responses use a tag structure rather than strict XML: the model wraps
// answers in named tags but may surround them with prose or drop optional
// sections. Parsing is tolerant, scraping the first occurrence of each tag
// instead of requiring a well-formed document.

var (
	tagReMu sync.Mutex
	tagRes  = map[string]*regexp.Regexp{}

	attrRe      = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
	jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

func tagRegexp(name string) *regexp.Regexp {
	tagReMu.Lock()
	defer tagReMu.Unlock()
	re, ok := tagRes[name]
	if !ok {
		re = regexp.MustCompile(`(?s)<` + name + `(?:\s[^>]*)?>(.*?)</` + name + `>`)
		tagRes[name] = re
	}
	return re
}

// tagContent returns the body of the first <name>...</name> block. Bodies
// carrying regexes or code arrive with angle brackets entity-escaped, so
// entities are decoded on the way out.
func tagContent(text, name string) (string, bool) {
	m := tagRegexp(name).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(strings.TrimSpace(m[1])), true
}

// element is one tag occurrence with parsed attributes and inner body.
type element struct {
	attrs map[string]string
	body  string
}

func (e element) attr(name string) string { return e.attrs[name] }

func (e element) floatAttr(name string, fallback float64) float64 {
	v, err := strconv.ParseFloat(e.attrs[name], 64)
	if err != nil {
		return fallback
	}
	return v
}

func (e element) intAttr(name string, fallback int) int {
	v, err := strconv.Atoi(e.attrs[name])
	if err != nil {
		return fallback
	}
	return v
}

// elements finds every <name .../> or <name ...>body</name> occurrence.
func elements(text, name string) []element {
	re := elementRegexp(name)
	var out []element
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		el := element{attrs: map[string]string{}}
		for _, a := range attrRe.FindAllStringSubmatch(m[1], -1) {
			el.attrs[a[1]] = html.UnescapeString(a[2])
		}
		if len(m) > 2 {
			el.body = html.UnescapeString(strings.TrimSpace(m[2]))
		}
		out = append(out, el)
	}
	return out
}

func elementRegexp(name string) *regexp.Regexp {
	key := name + "/element"
	tagReMu.Lock()
	defer tagReMu.Unlock()
	re, ok := tagRes[key]
	if !ok {
		re = regexp.MustCompile(`(?s)<` + name + `\b([^>]*?)(?:/>|>(.*?)</` + name + `>)`)
		tagRes[key] = re
	}
	return re
}

// parseConfidence reads a confidence tag or attribute value clamped to
// [0, 1]. Unparseable values become 0.
func parseConfidence(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return clampConfidence(v)
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExtractJSONBlock pulls the first fenced JSON object out of a response,
// falling back to the outermost brace span when no fence is present.
func ExtractJSONBlock(text string) (string, bool) {
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1], true
	}
	return "", false
}

// ParseError marks a response that did not conform to the expected tag
// structure. Parse failures are not retryable.
type ParseError struct {
	Tag string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ai: response missing <%s> block", e.Tag)
}
