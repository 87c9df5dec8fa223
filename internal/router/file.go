package router

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/soctriage/internal/incident"
)

// fileRules is the on-disk shape of a rules file:
//
//	rules:
//	  - tag: rules:ato
//	    category: account_takeover
//	    severity: P1
//	    confidence: 0.85
//	    when:
//	      - all:
//	          - [new device, новое устройство]
//	          - [login, вход]
//	fallback:
//	  tag: rules:unknown
//	  category: unknown
//	  severity: P3
//	  confidence: 0.55
//
// A rule matches when any of its "when" clauses matches. A clause matches
// when every slot contains at least one of its keywords.
type fileRules struct {
	Rules    []fileRule    `yaml:"rules"`
	Fallback *fileDecision `yaml:"fallback"`
}

type fileDecision struct {
	Tag        string  `yaml:"tag"`
	Category   string  `yaml:"category"`
	Severity   string  `yaml:"severity"`
	Confidence float64 `yaml:"confidence"`
}

type fileRule struct {
	fileDecision `yaml:",inline"`
	When         []fileClause `yaml:"when"`
}

type fileClause struct {
	All [][]string `yaml:"all"`
}

// LoadFile reads a YAML rules file and builds a Router from it. When the
// file omits a fallback, the built-in Fallback is used.
func LoadFile(path string) (*Router, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(b)
}

// Parse builds a Router from YAML rules. Every rule is validated; all
// problems are reported together.
func Parse(b []byte) (*Router, error) {
	var fr fileRules
	if err := yaml.Unmarshal(b, &fr); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(fr.Rules) == 0 {
		return nil, errors.New("rules file defines no rules")
	}

	var errs []error
	rules := make([]Rule, 0, len(fr.Rules))
	for i, r := range fr.Rules {
		d, err := r.decision()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		match, err := r.predicate()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, d.RuleTag, err))
			continue
		}
		rules = append(rules, Rule{Match: match, Decision: d})
	}

	fallback := Fallback
	if fr.Fallback != nil {
		d, err := fr.Fallback.decision()
		if err != nil {
			errs = append(errs, fmt.Errorf("fallback: %w", err))
		} else {
			fallback = d
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return New(rules, fallback), nil
}

func (d fileDecision) decision() (incident.Decision, error) {
	var errs []error
	if d.Tag == "" {
		errs = append(errs, errors.New("tag is required"))
	}
	cat, err := incident.ParseCategory(d.Category)
	if err != nil {
		errs = append(errs, err)
	}
	sev, err := incident.ParseSeverity(d.Severity)
	if err != nil {
		errs = append(errs, err)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v out of range [0,1]", d.Confidence))
	}
	if err := errors.Join(errs...); err != nil {
		return incident.Decision{}, err
	}
	return incident.Decision{Category: cat, Severity: sev, Confidence: d.Confidence, RuleTag: d.Tag}, nil
}

func (r fileRule) predicate() (Predicate, error) {
	if len(r.When) == 0 {
		return nil, errors.New("at least one when clause is required")
	}
	clauses := make([]Predicate, 0, len(r.When))
	for i, c := range r.When {
		if len(c.All) == 0 {
			return nil, fmt.Errorf("when[%d]: empty clause", i)
		}
		slots := make([]Predicate, 0, len(c.All))
		for j, kws := range c.All {
			if len(kws) == 0 {
				return nil, fmt.Errorf("when[%d].all[%d]: no keywords", i, j)
			}
			slots = append(slots, Contains(kws...))
		}
		clauses = append(clauses, All(slots...))
	}
	return Any(clauses...), nil
}
