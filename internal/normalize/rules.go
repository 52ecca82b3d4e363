package normalize

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/faultline/internal/model"
)

// Placeholder names for the built-in rules. Custom rules may use any name;
// the structured-data flags only track the built-in set.
const (
	PlaceholderUUID      = "UUID"
	PlaceholderTimestamp = "TIMESTAMP"
	PlaceholderEmail     = "EMAIL"
	PlaceholderURL       = "URL"
	PlaceholderIP        = "IP"
	PlaceholderPath      = "PATH"
	PlaceholderJSON      = "JSON"
	PlaceholderNumber    = "NUMBER"
)

// Rule replaces every match of Pattern with its placeholder token.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Token returns the placeholder token inserted into templates, e.g. "<UUID>".
func (r Rule) Token() string {
	return "<" + r.Name + ">"
}

// defaultRules is the built-in substitution list. Order is priority: more
// specific patterns run before generic ones so a UUID is never partially
// consumed by the number rule, and a URL is never split by the path rule.
func defaultRules() []Rule {
	return []Rule{
		{PlaceholderUUID, regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)},
		{PlaceholderTimestamp, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:z|[+-]\d{2}:?\d{2})?\b`)},
		{PlaceholderEmail, regexp.MustCompile(`\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)},
		{PlaceholderURL, regexp.MustCompile(`\bhttps?://[^\s"']+`)},
		{PlaceholderIP, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
		{PlaceholderIP, regexp.MustCompile(`\b(?:[0-9a-f]{1,4}:){2,7}[0-9a-f]{1,4}\b`)},
		{PlaceholderPath, regexp.MustCompile(`(?:^|\s)((?:/[\w.@-]+){2,}/?)`)},
		{PlaceholderJSON, regexp.MustCompile(`\{[^{}]*\}`)},
		{PlaceholderNumber, regexp.MustCompile(`\b\d{4,}\b`)},
	}
}

// Normalizer reduces a raw message to a variable-stripped template and
// derives an error category and key terms. The rule and category lists are
// fixed after construction and shared by reference; Normalize is pure and
// safe for concurrent use.
type Normalizer struct {
	rules      []Rule
	categories []categoryRule
	topTerms   int
}

// Option configures a Normalizer at construction time.
type Option func(*Normalizer)

// WithRules appends custom rules after the built-in list (lower priority).
func WithRules(rules ...Rule) Option {
	return func(n *Normalizer) {
		n.rules = append(n.rules, rules...)
	}
}

// WithFrontRules prepends custom rules before the built-in list
// (higher priority).
func WithFrontRules(rules ...Rule) Option {
	return func(n *Normalizer) {
		n.rules = append(append([]Rule{}, rules...), n.rules...)
	}
}

// WithTopTerms sets how many key terms Normalize extracts (default 5).
func WithTopTerms(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.topTerms = n
		}
	}
}

// New builds a Normalizer with the built-in rules and category table.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		rules:      defaultRules(),
		categories: defaultCategoryRules(),
		topTerms:   5,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize computes the template, category, key terms and structured-data
// flags for a message. The template is lowercased with variable spans
// replaced by uppercase placeholder tokens.
func (n *Normalizer) Normalize(message string) model.NormalizedEvent {
	template, flags := n.Template(message)
	return model.NormalizedEvent{
		Template: template,
		Category: n.ExtractErrorCategory(message),
		KeyTerms: n.ExtractKeyTerms(message, n.topTerms),
		Flags:    flags,
	}
}

// Template applies the ordered rule list to the lowercased message and
// reports which built-in variable kinds were found.
func (n *Normalizer) Template(message string) (string, model.StructuredFlags) {
	var flags model.StructuredFlags
	s := strings.ToLower(strings.TrimSpace(message))

	for _, rule := range n.rules {
		if !rule.Pattern.MatchString(s) {
			continue
		}
		markFlag(&flags, rule.Name)
		token := rule.Token()
		if rule.Name == PlaceholderPath {
			// The path pattern anchors on a leading separator; keep it.
			s = rule.Pattern.ReplaceAllString(s, " "+token)
		} else {
			s = rule.Pattern.ReplaceAllString(s, token)
		}
	}

	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " ")), flags
}

func markFlag(flags *model.StructuredFlags, name string) {
	switch name {
	case PlaceholderUUID:
		flags.HasUUID = true
	case PlaceholderIP:
		flags.HasIP = true
	case PlaceholderURL:
		flags.HasURL = true
	case PlaceholderPath:
		flags.HasPath = true
	case PlaceholderTimestamp:
		flags.HasTimestamp = true
	case PlaceholderNumber:
		flags.HasNumber = true
	case PlaceholderEmail:
		flags.HasEmail = true
	case PlaceholderJSON:
		flags.HasJSON = true
	}
}
