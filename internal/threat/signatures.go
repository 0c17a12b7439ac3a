package threat

import (
	"regexp"
)

// signature is one compiled injection signature. Severity and
// confidence are static per signature: exact dangerous keyword
// sequences score high on both, lone special characters score low.
type signature struct {
	name       string
	pattern    *regexp.Regexp
	category   Category
	severity   int
	confidence float64
}

// sqlSignatures match SQL injection patterns against string inputs.
var sqlSignatures = []signature{
	{
		name:       "sql_union_select",
		pattern:    regexp.MustCompile(`(?i)\bunion\b[\s/*]+(?:all[\s/*]+)?\bselect\b`),
		category:   CategorySQLInjection,
		severity:   9,
		confidence: 0.95,
	},
	{
		name:       "sql_or_true",
		pattern:    regexp.MustCompile(`(?i)['"]\s*or\s+['"]?\d+['"]?\s*=\s*['"]?\d+`),
		category:   CategorySQLInjection,
		severity:   9,
		confidence: 0.9,
	},
	{
		name:       "sql_statement_injection",
		pattern:    regexp.MustCompile(`(?i);\s*(?:drop|delete|insert|update|truncate|alter)\b`),
		category:   CategorySQLInjection,
		severity:   9,
		confidence: 0.9,
	},
	{
		name:       "sql_comment_terminator",
		pattern:    regexp.MustCompile(`(?i)['"]\s*(?:--|#|/\*)`),
		category:   CategorySQLInjection,
		severity:   6,
		confidence: 0.7,
	},
	{
		name:       "sql_sleep_benchmark",
		pattern:    regexp.MustCompile(`(?i)\b(?:sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(`),
		category:   CategorySQLInjection,
		severity:   8,
		confidence: 0.85,
	},
	{
		name:       "sql_quote",
		pattern:    regexp.MustCompile(`['"]`),
		category:   CategorySQLInjection,
		severity:   2,
		confidence: 0.2,
	},
}

// xssSignatures match cross-site scripting patterns.
var xssSignatures = []signature{
	{
		name:       "xss_script_tag",
		pattern:    regexp.MustCompile(`(?i)<\s*script[^>]*>`),
		category:   CategoryXSS,
		severity:   8,
		confidence: 0.95,
	},
	{
		name:       "xss_event_handler",
		pattern:    regexp.MustCompile(`(?i)\bon(?:error|load|click|mouseover|focus|submit)\s*=`),
		category:   CategoryXSS,
		severity:   7,
		confidence: 0.8,
	},
	{
		name:       "xss_javascript_uri",
		pattern:    regexp.MustCompile(`(?i)javascript\s*:`),
		category:   CategoryXSS,
		severity:   7,
		confidence: 0.85,
	},
	{
		name:       "xss_iframe_embed",
		pattern:    regexp.MustCompile(`(?i)<\s*(?:iframe|embed|object)\b`),
		category:   CategoryXSS,
		severity:   6,
		confidence: 0.75,
	},
	{
		name:       "xss_angle_bracket",
		pattern:    regexp.MustCompile(`<[a-zA-Z]`),
		category:   CategoryXSS,
		severity:   2,
		confidence: 0.2,
	},
}

// traversalSignatures match path traversal patterns, including common
// URL encodings.
var traversalSignatures = []signature{
	{
		name:       "traversal_dotdot",
		pattern:    regexp.MustCompile(`\.\.[/\\]`),
		category:   CategoryPathTraversal,
		severity:   8,
		confidence: 0.9,
	},
	{
		name:       "traversal_encoded_dotdot",
		pattern:    regexp.MustCompile(`(?i)(?:%2e%2e|\.\.%2f|%2e%2e%2f|\.\.%5c)`),
		category:   CategoryPathTraversal,
		severity:   8,
		confidence: 0.9,
	},
	{
		name:       "traversal_sensitive_path",
		pattern:    regexp.MustCompile(`(?i)(?:/etc/passwd|/etc/shadow|boot\.ini|win\.ini)`),
		category:   CategoryPathTraversal,
		severity:   9,
		confidence: 0.95,
	},
}

// botUserAgents are substrings of known bot and library user agents.
var botUserAgents = []string{
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"libwww-perl",
	"scrapy",
	"httpclient",
	"bot",
	"crawler",
	"spider",
	"headlesschrome",
	"phantomjs",
}
