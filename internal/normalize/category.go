package normalize

import (
	"regexp"

	"github.com/tinytelemetry/faultline/internal/model"
)

type categoryRule struct {
	category model.Category
	pattern  *regexp.Regexp
}

// defaultCategoryRules is the fixed ordered category table. First matching
// category wins, so narrower signals (connection, timeout) precede broader
// ones (network, validation).
func defaultCategoryRules() []categoryRule {
	return []categoryRule{
		{model.CategoryConnection, regexp.MustCompile(`(?i)connection (?:refused|reset|closed|aborted|failed|error)|cannot connect|could not connect|failed to connect|econnrefused|econnreset|broken pipe`)},
		{model.CategoryTimeout, regexp.MustCompile(`(?i)timed? ?out|deadline exceeded|etimedout|wait timeout`)},
		{model.CategoryAuth, regexp.MustCompile(`(?i)unauthorized|unauthenticated|forbidden|authentication|access denied|permission denied|invalid (?:token|credentials|api key)|token expired|expired token|login fail`)},
		{model.CategoryDatabase, regexp.MustCompile(`(?i)database|deadlock|duplicate key|constraint violat|foreign key|\bsql\b|sqlstate|transaction (?:aborted|rolled back)|postgres|mysql|sqlite|mongo`)},
		{model.CategoryNetwork, regexp.MustCompile(`(?i)network|no route to host|host unreachable|name resolution|dns|tls|ssl|certificate|socket`)},
		{model.CategoryFilesystem, regexp.MustCompile(`(?i)no such file|file not found|is a directory|not a directory|read-only file system|disk full|no space left|i/o error|enoent|eacces`)},
		{model.CategoryMemory, regexp.MustCompile(`(?i)out of memory|\boom\b|oomkilled|memory limit|cannot allocate|allocation fail|heap (?:space|exhausted)`)},
		{model.CategoryNullReference, regexp.MustCompile(`(?i)null pointer|nil pointer|nullreferenceexception|npe\b|undefined is not a|nonetype.*has no attribute|segmentation fault`)},
		{model.CategoryValidation, regexp.MustCompile(`(?i)validation|invalid (?:input|value|argument|format|request|payload)|malformed|parse error|failed to parse|unmarshal|missing required|schema`)},
		{model.CategoryRateLimit, regexp.MustCompile(`(?i)rate limit|too many requests|\b429\b|throttl|quota exceeded`)},
	}
}

// ExtractErrorCategory classifies a message against the ordered category
// table. The first matching category wins; unmatched messages are UNKNOWN.
func (n *Normalizer) ExtractErrorCategory(message string) model.Category {
	for _, rule := range n.categories {
		if rule.pattern.MatchString(message) {
			return rule.category
		}
	}
	return model.CategoryUnknown
}
