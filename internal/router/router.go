// Package router classifies free-text incident descriptions with an
// ordered list of keyword rules. The first rule whose predicate holds
// decides the category; nothing matching falls through to the default.
//
// Routing is a pure function of the input text. A Router holds no
// mutable state and is safe for concurrent use.
package router

import (
	"strings"

	"github.com/linnemanlabs/soctriage/internal/incident"
)

// Predicate reports whether case-folded event text satisfies a condition.
type Predicate func(text string) bool

// Rule pairs a predicate with the decision it produces.
type Rule struct {
	Match    Predicate
	Decision incident.Decision
}

// Router evaluates rules in order and returns the first match.
type Router struct {
	rules    []Rule
	fallback incident.Decision
}

// New returns a Router over the given rules. The slice is copied so later
// changes by the caller do not affect routing.
func New(rules []Rule, fallback incident.Decision) *Router {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Router{rules: cp, fallback: fallback}
}

// Route case-folds text and returns the decision of the first matching rule.
func (r *Router) Route(text string) incident.Decision {
	t := strings.ToLower(text)
	for _, rule := range r.rules {
		if rule.Match(t) {
			return rule.Decision
		}
	}
	return r.fallback
}

// Tags returns the rule tags in evaluation order, followed by the fallback tag.
func (r *Router) Tags() []string {
	tags := make([]string, 0, len(r.rules)+1)
	for _, rule := range r.rules {
		tags = append(tags, rule.Decision.RuleTag)
	}
	return append(tags, r.fallback.RuleTag)
}

// Contains matches when the text contains any of the keywords.
// Keywords are case-folded once at construction.
func Contains(keywords ...string) Predicate {
	folded := make([]string, len(keywords))
	for i, kw := range keywords {
		folded[i] = strings.ToLower(kw)
	}
	return func(text string) bool {
		for _, kw := range folded {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}
}

// All matches when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(text string) bool {
		for _, p := range preds {
			if !p(text) {
				return false
			}
		}
		return len(preds) > 0
	}
}

// Any matches when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(text string) bool {
		for _, p := range preds {
			if p(text) {
				return true
			}
		}
		return false
	}
}
