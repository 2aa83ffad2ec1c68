// File: internal/healing/strategies.go
package healing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
)

// Heuristic confidence tiers. Fixed-tier strategies use the constant as-is;
// graded strategies scale within their documented range.
const (
	confIDFallback  = 0.95
	confDataTestID  = 0.92
	confName        = 0.90
	confAriaLabel   = 0.88
	confPlaceholder = 0.85

	confTextExact   = 0.90
	confTextFloor   = 0.82
	confXPathFloor  = 0.70
	confXPathRange  = 0.20
	confAttrFloor   = 0.65
	confAttrRange   = 0.20
	confDOMPosition = 0.70
)

// Acceptance gates: below these the strategy yields no candidate at all.
const (
	minIDSimilarity    = 0.55
	minTokenOverlap    = 0.5
	minTextSimilarity  = 0.6
	minXPathScore      = 0.35
	minAttrFuzzyScore  = 0.5
	maxCandidateLength = 512
)

// candidate is one proposed replacement locator.
type candidate struct {
	Selector   string
	Confidence float64
	Strategy   schemas.HealingStrategy
	// priority and order make tie-breaking fully deterministic: strategy
	// table position first, then document order of the matched element.
	priority int
	order    int
}

type strategyFunc func(h locatorHints, els []browser.Element) []candidate

type strategy struct {
	Name schemas.HealingStrategy
	Fn   strategyFunc
}

// cascade is the fixed evaluation order. Earlier entries win confidence ties.
var cascade = []strategy{
	{schemas.StrategyIDFallback, idFallback},
	{schemas.StrategyDataTestID, dataTestID},
	{schemas.StrategyNameFallback, nameFallback},
	{schemas.StrategyAriaLabel, ariaLabel},
	{schemas.StrategyPlaceholder, placeholderFallback},
	{schemas.StrategyTextMatch, textMatch},
	{schemas.StrategyXPathFallback, xpathFallback},
	{schemas.StrategyAttributeFuzz, attributeFuzzy},
	{schemas.StrategyDOMStructure, domStructure},
}

// idFallback matches element IDs that drifted by a suffix/prefix or a small
// edit (e.g. "login-btn" -> "login-button").
func idFallback(h locatorHints, els []browser.Element) []candidate {
	if h.ID == "" {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.ID == "" || el.ID == h.ID {
			continue
		}
		related := strings.HasPrefix(el.ID, h.ID) || strings.HasPrefix(h.ID, el.ID) ||
			strings.HasSuffix(el.ID, h.ID) || strings.HasSuffix(h.ID, el.ID)
		if !related && similarity(el.ID, h.ID) < minIDSimilarity {
			continue
		}
		out = append(out, candidate{
			Selector:   idSelector(el.ID),
			Confidence: confIDFallback,
			order:      i,
		})
	}
	return out
}

// dataTestID matches test-hook attributes against the mined hint tokens.
func dataTestID(h locatorHints, els []browser.Element) []candidate {
	if len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.TestID == "" {
			continue
		}
		if tokenOverlap(el.TestID, h.Tokens) < minTokenOverlap {
			continue
		}
		out = append(out, candidate{
			Selector:   attrSelector("data-testid", el.TestID),
			Confidence: confDataTestID,
			order:      i,
		})
	}
	return out
}

// nameFallback matches form controls by their name attribute.
func nameFallback(h locatorHints, els []browser.Element) []candidate {
	if len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.Name == "" || !el.IsFormControl() {
			continue
		}
		if tokenOverlap(el.Name, h.Tokens) < minTokenOverlap {
			continue
		}
		out = append(out, candidate{
			Selector:   attrSelector("name", el.Name),
			Confidence: confName,
			order:      i,
		})
	}
	return out
}

// ariaLabel matches accessibility labels against the element description.
func ariaLabel(h locatorHints, els []browser.Element) []candidate {
	if h.Description == "" && len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.AriaLabel == "" {
			continue
		}
		score := tokenOverlap(el.AriaLabel, h.Tokens)
		if h.Description != "" {
			if s := similarity(normalizeText(el.AriaLabel), normalizeText(h.Description)); s > score {
				score = s
			}
		}
		if score < minTokenOverlap {
			continue
		}
		out = append(out, candidate{
			Selector:   attrSelector("aria-label", el.AriaLabel),
			Confidence: confAriaLabel,
			order:      i,
		})
	}
	return out
}

// placeholderFallback matches inputs by placeholder text.
func placeholderFallback(h locatorHints, els []browser.Element) []candidate {
	if h.Description == "" && len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.Placeholder == "" || (el.Tag != "input" && el.Tag != "textarea") {
			continue
		}
		score := tokenOverlap(el.Placeholder, h.Tokens)
		if h.Description != "" {
			if s := similarity(normalizeText(el.Placeholder), normalizeText(h.Description)); s > score {
				score = s
			}
		}
		if score < minTokenOverlap {
			continue
		}
		out = append(out, candidate{
			Selector:   attrSelector("placeholder", el.Placeholder),
			Confidence: confPlaceholder,
			order:      i,
		})
	}
	return out
}

// textMatch compares visible text against the element description. Exact
// normalized equality scores the ceiling; fuzzy matches scale linearly from
// the floor.
func textMatch(h locatorHints, els []browser.Element) []candidate {
	if h.Description == "" {
		return nil
	}
	want := normalizeText(h.Description)
	var out []candidate
	for i, el := range els {
		if el.Text == "" {
			continue
		}
		got := normalizeText(el.Text)
		var conf float64
		if got == want {
			conf = confTextExact
		} else {
			sim := similarity(got, want)
			if sim < minTextSimilarity {
				continue
			}
			// Linear map of [minTextSimilarity, 1) onto [floor, ceiling).
			conf = confTextFloor + (confTextExact-confTextFloor)*(sim-minTextSimilarity)/(1-minTextSimilarity)
		}
		out = append(out, candidate{
			Selector:   textLocator(el),
			Confidence: conf,
			order:      i,
		})
	}
	return out
}

// xpathFallback proposes the absolute path of a structurally plausible
// element: same tag as the hint with some token affinity.
func xpathFallback(h locatorHints, els []browser.Element) []candidate {
	if h.Tag == "" || len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		if el.Tag != h.Tag || el.XPath == "" {
			continue
		}
		score := tokenOverlap(elementSignalText(el), h.Tokens)
		if score < minXPathScore {
			continue
		}
		out = append(out, candidate{
			Selector:   el.XPath,
			Confidence: confXPathFloor + confXPathRange*score,
			order:      i,
		})
	}
	return out
}

// attributeFuzzy scans every attribute for partial value matches.
func attributeFuzzy(h locatorHints, els []browser.Element) []candidate {
	if len(h.Tokens) == 0 {
		return nil
	}
	var out []candidate
	for i, el := range els {
		bestScore := 0.0
		bestAttr, bestVal := "", ""
		for _, key := range sortedAttrKeys(el.Attrs) {
			val := el.Attrs[key]
			if val == "" || key == "style" {
				continue
			}
			if s := tokenOverlap(val, h.Tokens); s > bestScore {
				bestScore, bestAttr, bestVal = s, key, val
			}
		}
		if bestScore < minAttrFuzzyScore {
			continue
		}
		out = append(out, candidate{
			Selector:   fmt.Sprintf(`%s[%s*=%q]`, el.Tag, bestAttr, firstToken(bestVal)),
			Confidence: confAttrFloor + confAttrRange*bestScore,
			order:      i,
		})
	}
	return out
}

// domStructure falls back to tree position: same tag at the same sibling
// position as the failed locator hinted at.
func domStructure(h locatorHints, els []browser.Element) []candidate {
	if h.Tag == "" {
		return nil
	}
	wantPos := h.Index
	if wantPos == 0 {
		wantPos = 1
	}
	var out []candidate
	for i, el := range els {
		if el.Tag != h.Tag || el.SiblingPos != wantPos || el.XPath == "" {
			continue
		}
		out = append(out, candidate{
			Selector:   el.XPath,
			Confidence: confDOMPosition,
			order:      i,
		})
	}
	return out
}

// -- selector builders --

func idSelector(id string) string {
	if strings.ContainsAny(id, " .:[]#>+~'\"\\") {
		return attrSelector("id", id)
	}
	return "#" + id
}

func attrSelector(attr, value string) string {
	return fmt.Sprintf(`[%s=%q]`, attr, value)
}

// textLocator builds a text-anchored XPath, falling back to the element's
// absolute path when the text cannot be safely quoted.
func textLocator(el browser.Element) string {
	if !strings.Contains(el.Text, `"`) && len(el.Text) <= maxCandidateLength {
		return fmt.Sprintf(`//%s[normalize-space()="%s"]`, el.Tag, strings.Join(strings.Fields(el.Text), " "))
	}
	return el.XPath
}

// elementSignalText concatenates the identifying signals of an element for
// token scoring.
func elementSignalText(el browser.Element) string {
	parts := []string{el.ID, el.Name, el.TestID, el.AriaLabel, el.Placeholder, el.Text, el.Attrs["class"]}
	return strings.Join(parts, " ")
}

// sortedAttrKeys gives deterministic iteration: map order must never
// influence healing.
func sortedAttrKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstToken(s string) string {
	tokens := tokenize(s)
	if len(tokens) == 0 {
		return s
	}
	return tokens[0]
}
