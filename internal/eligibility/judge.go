package eligibility

import (
	"regexp"
	"strings"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// Rules are a contest's content requirements. Both fields are optional; an
// empty rule always passes its check.
type Rules struct {
	RequiredHashtags    []string
	DescriptionTemplate string
}

// Verdict pairs the two independent check outcomes.
type Verdict struct {
	Hashtags    enums.CheckVerdict
	Description enums.CheckVerdict
}

// Approved reports whether both checks passed outright. Anything else routes
// the submission to manual review.
func (v Verdict) Approved() bool {
	return v.Hashtags == enums.CheckVerdictPass && v.Description == enums.CheckVerdictPass
}

const descriptionTokenThreshold = 0.6

var hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// Common filler words excluded from description token scoring.
var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "your": {},
	"have": {}, "will": {}, "been": {}, "were": {}, "they": {},
	"their": {}, "about": {}, "would": {}, "there": {}, "what": {},
	"when": {}, "make": {}, "made": {}, "just": {}, "into": {},
	"over": {}, "them": {}, "then": {}, "than": {}, "some": {},
}

// Judge evaluates scraped captions against contest rules. Stateless.
type Judge struct{}

func NewJudge() *Judge {
	return &Judge{}
}

// Evaluate runs both checks against the scraped caption and any structured
// hashtag list the payload carried.
func (j *Judge) Evaluate(rules Rules, caption string, structuredTags []string) Verdict {
	return Verdict{
		Hashtags:    j.CheckHashtags(rules.RequiredHashtags, caption, structuredTags),
		Description: j.CheckDescription(rules.DescriptionTemplate, caption),
	}
}

// CheckHashtags passes when every required hashtag is satisfied by some
// extracted tag. A tag satisfies a requirement on exact match or substring
// containment in either direction, which tolerates pluralization and variants.
func (j *Judge) CheckHashtags(required []string, caption string, structuredTags []string) enums.CheckVerdict {
	if len(required) == 0 {
		return enums.CheckVerdictPass
	}

	extracted := ExtractHashtags(caption, structuredTags)
	if len(extracted) == 0 {
		return enums.CheckVerdictFail
	}

	for _, want := range required {
		needle := normalizeTag(want)
		if needle == "" {
			continue
		}
		if !anyTagMatches(extracted, needle) {
			return enums.CheckVerdictFail
		}
	}
	return enums.CheckVerdictPass
}

// CheckDescription passes on exact or substring match of the normalized
// template against the normalized caption, or when at least 60% of the
// template's significant tokens appear in the caption.
func (j *Judge) CheckDescription(template, caption string) enums.CheckVerdict {
	tmpl := strings.ToLower(strings.TrimSpace(template))
	if tmpl == "" {
		return enums.CheckVerdictPass
	}
	text := strings.ToLower(strings.TrimSpace(caption))
	if text == "" {
		return enums.CheckVerdictFail
	}

	if text == tmpl || strings.Contains(text, tmpl) {
		return enums.CheckVerdictPass
	}

	tokens := significantTokens(tmpl)
	if len(tokens) == 0 {
		return enums.CheckVerdictPass
	}

	matched := 0
	for _, token := range tokens {
		if strings.Contains(text, token) {
			matched++
		}
	}
	if float64(matched)/float64(len(tokens)) >= descriptionTokenThreshold {
		return enums.CheckVerdictPass
	}
	return enums.CheckVerdictFail
}

// ExtractHashtags merges any structured hashtag field with tags found in the
// caption text, normalized to lowercase with the leading # stripped.
func ExtractHashtags(caption string, structuredTags []string) []string {
	seen := map[string]struct{}{}
	var out []string

	add := func(tag string) {
		normalized := normalizeTag(tag)
		if normalized == "" {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}

	for _, tag := range structuredTags {
		add(tag)
	}
	for _, m := range hashtagRe.FindAllStringSubmatch(caption, -1) {
		add(m[1])
	}
	return out
}

func anyTagMatches(tags []string, needle string) bool {
	for _, tag := range tags {
		if tag == needle || strings.Contains(tag, needle) || strings.Contains(needle, tag) {
			return true
		}
	}
	return false
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

var tokenSplitRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func significantTokens(normalizedTemplate string) []string {
	var out []string
	for _, token := range tokenSplitRe.Split(normalizedTemplate, -1) {
		if len(token) <= 3 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}
