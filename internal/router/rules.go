package router

import "github.com/linnemanlabs/soctriage/internal/incident"

// Rule tags for the built-in rule table.
const (
	TagAccountTakeover = "rules:ato"
	TagBruteforce      = "rules:bruteforce"
	TagPhishing        = "rules:phishing"
	TagUnknown         = "rules:unknown"
)

// Fallback is returned when no rule matches.
var Fallback = incident.Decision{
	Category:   incident.CategoryUnknown,
	Severity:   incident.SeverityP3,
	Confidence: 0.55,
	RuleTag:    TagUnknown,
}

// DefaultRules returns the built-in bilingual (English/Russian) rule table
// in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			// new device + successful login
			Match: All(
				Contains("new device", "новое устройство"),
				Contains("login", "вход"),
				Contains("success", "успеш"),
			),
			Decision: incident.Decision{
				Category:   incident.CategoryAccountTakeover,
				Severity:   incident.SeverityP1,
				Confidence: 0.85,
				RuleTag:    TagAccountTakeover,
			},
		},
		{
			// repeated failed authentication
			Match: All(
				Contains("failed login", "неудач", "bruteforce", "брут"),
				Contains("many", "много", "multiple", "несколько"),
			),
			Decision: incident.Decision{
				Category:   incident.CategoryBruteforce,
				Severity:   incident.SeverityP2,
				Confidence: 0.78,
				RuleTag:    TagBruteforce,
			},
		},
		{
			Match: Any(
				Contains("phish", "фиш"),
				All(Contains("email"), Contains("link")),
				All(Contains("письмо"), Contains("ссылка")),
			),
			Decision: incident.Decision{
				Category:   incident.CategoryPhishing,
				Severity:   incident.SeverityP2,
				Confidence: 0.72,
				RuleTag:    TagPhishing,
			},
		},
	}
}

var defaultRouter = New(DefaultRules(), Fallback)

// Default returns the router built from DefaultRules and Fallback.
func Default() *Router { return defaultRouter }

// Route classifies text with the built-in rule table.
func Route(text string) incident.Decision { return defaultRouter.Route(text) }
