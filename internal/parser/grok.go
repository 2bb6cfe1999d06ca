package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Grok building blocks usable inside extraction patterns as %{NAME} or
// %{NAME:slot}
var grokPatterns = map[string]string{
	// Base patterns
	"USERNAME":   `[a-zA-Z0-9._@-]+`,
	"USER":       `%{USERNAME}`,
	"INT":        `(?:[+-]?(?:[0-9]+))`,
	"NUMBER":     `(?:%{INT}(?:\.[0-9]+)?)`,
	"POSINT":     `\b(?:[1-9][0-9]*)\b`,
	"WORD":       `\b\w+\b`,
	"NOTSPACE":   `\S+`,
	"SPACE":      `\s*`,
	"DATA":       `.*?`,
	"GREEDYDATA": `.*`,
	"QS":         `"[^"]*"`,

	// Date/Time patterns
	"MONTHDAY": `(?:(?:0[1-9])|(?:[12][0-9])|(?:3[01])|[1-9])`,
	"MONTH":    `\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\b`,
	"YEAR":     `(?:\d\d){1,2}`,
	"HOUR":     `(?:2[0123]|[01]?[0-9])`,
	"MINUTE":   `(?:[0-5][0-9])`,
	"SECOND":   `(?:(?:[0-5]?[0-9]|60)(?:[:.,][0-9]+)?)`,
	"TIME":     `%{HOUR}:%{MINUTE}(?::%{SECOND})?`,
	"HTTPDATE": `%{MONTHDAY}/%{MONTH}/%{YEAR}:%{TIME} %{INT}`,

	"TIMESTAMP_ISO8601": `%{YEAR}-%{MONTHDAY}-%{MONTHDAY}[T ]%{HOUR}:?%{MINUTE}(?::?%{SECOND})?%{ISO8601_TIMEZONE}?`,
	"ISO8601_TIMEZONE":  `(?:Z|[+-]%{HOUR}(?::?%{MINUTE}))`,

	// Network patterns
	"IPV4":     `(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`,
	"IPV6":     `(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{0,4}`,
	"IP":       `(?:%{IPV6}|%{IPV4})`,
	"HOSTNAME": `\b(?:[0-9A-Za-z][0-9A-Za-z-]{0,62})(?:\.(?:[0-9A-Za-z][0-9A-Za-z-]{0,62}))*\.?\b`,
	"IPORHOST": `(?:%{IP}|%{HOSTNAME})`,

	// HTTP patterns
	"HTTPMETHOD": `\b[A-Z]+\b`,
	"URIPATH":    `[^ "?#]+`,
	"URIPARAM":   `\?[^ "#]*`,
	"URIPATHPARAM": `%{URIPATH}(?:%{URIPARAM})?`,
}

// Named layouts accepted in place of a pattern
var namedPatterns = map[string]string{
	"common":   `^%{IPORHOST:ip} %{NOTSPACE} %{NOTSPACE} \[%{HTTPDATE:time}\] "(?:%{HTTPMETHOD:method} )?%{NOTSPACE:url}(?: HTTP/%{NUMBER})?" %{INT:status} (?:%{INT:bytes}|-)`,
	"combined": `^%{IPORHOST:ip} %{NOTSPACE} %{NOTSPACE} \[%{HTTPDATE:time}\] "(?:%{HTTPMETHOD:method} )?%{NOTSPACE:url}(?: HTTP/%{NUMBER})?" %{INT:status} (?:%{INT:bytes}|-) %{QS} %{QS}`,
	"nginx":    `^%{IPORHOST:ip} - %{NOTSPACE} \[%{HTTPDATE:time}\] "(?:%{HTTPMETHOD:method} )?%{NOTSPACE:url}(?: HTTP/%{NUMBER})?" %{INT:status} (?:%{INT:bytes}|-) %{QS} %{QS}`,
}

var grokRef = regexp.MustCompile(`%\{([A-Z0-9_]+)(?::([a-z0-9_]+))?\}`)

// expandGrokPattern replaces %{NAME} and %{NAME:slot} references with their
// regular expressions; the slot form becomes a named capture group.
func expandGrokPattern(pattern string) (string, error) {
	expanded := pattern
	maxIterations := 100

	for i := 0; i < maxIterations; i++ {
		matches := grokRef.FindAllStringSubmatch(expanded, -1)
		if len(matches) == 0 {
			return expanded, nil
		}

		for _, match := range matches {
			name, slot := match[1], match[2]

			replacement, ok := grokPatterns[name]
			if !ok {
				return "", fmt.Errorf("unknown grok pattern: %s", name)
			}
			if slot != "" {
				replacement = fmt.Sprintf("(?P<%s>%s)", slot, replacement)
			}

			expanded = strings.Replace(expanded, match[0], replacement, 1)
		}
	}

	return "", fmt.Errorf("grok pattern nests too deeply: %s", pattern)
}

// NamedPatterns returns the names accepted in place of a custom pattern
func NamedPatterns() []string {
	names := make([]string, 0, len(namedPatterns))
	for name := range namedPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
