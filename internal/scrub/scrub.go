// Package scrub removes sensitive values from wire transcripts.
package scrub

import (
	"regexp"
)

// Filtered replaces every scrubbed value.
const Filtered = "[FILTERED]"

// Rule rewrites one kind of sensitive value.
type Rule struct {
	re   *regexp.Regexp
	repl string
}

// Apply runs the rule over s.
func (r Rule) Apply(s string) string {
	return r.re.ReplaceAllString(s, r.repl)
}

// Custom builds a rule from a pattern and a replacement template.
func Custom(pattern, repl string) Rule {
	return Rule{re: regexp.MustCompile(pattern), repl: repl}
}

// FormField filters a form-encoded field (name=value).
func FormField(name string) Rule {
	return Rule{
		re:   regexp.MustCompile(`(?i)((?:^|[&?\s])` + regexp.QuoteMeta(name) + `=)[^&\s]*`),
		repl: "${1}" + Filtered,
	}
}

// JSONField filters a JSON string or number value.
func JSONField(name string) Rule {
	return Rule{
		re:   regexp.MustCompile(`(\\?"` + regexp.QuoteMeta(name) + `\\?"\s*:\s*)(?:\\?"[^"\\]*\\?"|-?\d+(?:\.\d+)?)`),
		repl: `${1}"` + Filtered + `"`,
	}
}

// XMLElement filters the text of an element, attributes kept.
func XMLElement(name string) Rule {
	n := regexp.QuoteMeta(name)
	return Rule{
		re:   regexp.MustCompile(`(<` + n + `(?:\s[^>]*)?>)[^<]*(</` + n + `>)`),
		repl: "${1}" + Filtered + "${2}",
	}
}

// Header filters an HTTP header value.
func Header(name string) Rule {
	return Rule{
		re:   regexp.MustCompile(`(?im)^(` + regexp.QuoteMeta(name) + `:\s*)\S.*?(\r?)$`),
		repl: "${1}" + Filtered + "${2}",
	}
}

// AuthorizationHeader filters Authorization headers keeping the scheme.
func AuthorizationHeader() Rule {
	return Rule{
		re:   regexp.MustCompile(`(?im)^(Authorization:\s*(?:Basic|Bearer|V2-HMAC-SHA256,?)?\s*)\S.*?(\r?)$`),
		repl: "${1}" + Filtered + "${2}",
	}
}

// CardNumbers filters standalone runs of 13 to 19 digits.
func CardNumbers() Rule {
	return Rule{
		re:   regexp.MustCompile(`\b\d{13,19}\b`),
		repl: Filtered,
	}
}

// Apply runs rules over transcript in order.
func Apply(transcript string, rules ...Rule) string {
	for _, r := range rules {
		transcript = r.Apply(transcript)
	}
	return transcript
}
