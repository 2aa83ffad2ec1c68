// File: internal/healing/hints.go
package healing

import (
	"regexp"
	"strconv"
	"strings"
)

// locatorHints is everything the cascade can learn from the failed locator
// and the free-text element description, before looking at the page.
type locatorHints struct {
	Raw         string
	Tag         string
	ID          string
	Classes     []string
	Attrs       map[string]string
	Index       int // 1-based positional hint, 0 when absent
	Description string
	// Tokens are the normalized words mined from id, classes and attribute
	// values. The description is deliberately not mixed in; strategies that
	// want it compare against Description directly.
	Tokens []string
}

var (
	cssIDRe    = regexp.MustCompile(`#([A-Za-z_][-\w]*)`)
	cssTagRe   = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9]*)`)
	cssClassRe = regexp.MustCompile(`\.([A-Za-z_][-\w]*)`)
	cssAttrRe  = regexp.MustCompile(`\[\s*([-\w]+)\s*[*^$~|]?=\s*['"]?([^'"\]]*)['"]?\s*\]`)
	cssNthRe   = regexp.MustCompile(`:nth-(?:child|of-type)\(\s*(\d+)\s*\)`)

	xpathTagRe  = regexp.MustCompile(`//([a-zA-Z][a-zA-Z0-9]*)`)
	xpathAttrRe = regexp.MustCompile(`@([-\w]+)\s*=\s*['"]([^'"]*)['"]`)
	xpathIdxRe  = regexp.MustCompile(`\[(\d+)\]`)
)

// parseHints extracts structural hints from a failed selector. It does not
// need to fully parse CSS or XPath; partial extraction degrades gracefully
// because every strategy treats its hint as optional.
func parseHints(selector, description string) locatorHints {
	h := locatorHints{
		Raw:         selector,
		Attrs:       map[string]string{},
		Description: strings.TrimSpace(description),
	}

	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		if m := xpathTagRe.FindStringSubmatch(selector); m != nil {
			h.Tag = strings.ToLower(m[1])
		}
		for _, m := range xpathAttrRe.FindAllStringSubmatch(selector, -1) {
			key := strings.ToLower(m[1])
			if key == "id" {
				h.ID = m[2]
			} else if key == "class" {
				h.Classes = append(h.Classes, strings.Fields(m[2])...)
			} else {
				h.Attrs[key] = m[2]
			}
		}
		if m := xpathIdxRe.FindStringSubmatch(selector); m != nil {
			h.Index, _ = strconv.Atoi(m[1])
		}
	} else {
		if m := cssTagRe.FindStringSubmatch(selector); m != nil {
			h.Tag = strings.ToLower(m[1])
		}
		if m := cssIDRe.FindStringSubmatch(selector); m != nil {
			h.ID = m[1]
		}
		for _, m := range cssClassRe.FindAllStringSubmatch(selector, -1) {
			h.Classes = append(h.Classes, m[1])
		}
		for _, m := range cssAttrRe.FindAllStringSubmatch(selector, -1) {
			key := strings.ToLower(m[1])
			switch key {
			case "id":
				h.ID = m[2]
			case "class":
				h.Classes = append(h.Classes, strings.Fields(m[2])...)
			default:
				h.Attrs[key] = m[2]
			}
		}
		if m := cssNthRe.FindStringSubmatch(selector); m != nil {
			h.Index, _ = strconv.Atoi(m[1])
		}
	}

	seen := map[string]struct{}{}
	add := func(s string) {
		for _, t := range tokenize(s) {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				h.Tokens = append(h.Tokens, t)
			}
		}
	}
	add(h.ID)
	for _, c := range h.Classes {
		add(c)
	}
	for _, v := range h.Attrs {
		add(v)
	}

	return h
}
