package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Capture slot names an extraction pattern declares
const (
	SlotIP     = "ip"
	SlotTime   = "time"
	SlotURL    = "url"
	SlotStatus = "status"
	SlotBytes  = "bytes"
	SlotMethod = "method"
)

// RequiredSlots must be present in every extraction pattern
var RequiredSlots = []string{SlotIP, SlotTime, SlotURL, SlotStatus}

// DefaultPattern matches the common and combined access-log layouts.
// Referer and user agent, when present, are ignored.
const DefaultPattern = `^(?P<ip>\S+) \S+ \S+ \[(?P<time>[^\]]+)\] "(?:(?P<method>[A-Z]+) )?(?P<url>[^ "]+)(?: [^"]*)?" (?P<status>\d{3})(?: (?P<bytes>\d+|-))?`

// ConfigError reports an extraction pattern rejected at load time
type ConfigError struct {
	Pattern string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid extraction pattern: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid extraction pattern: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExtractionPattern is a compiled field-extraction rule
type ExtractionPattern struct {
	source string
	re     *regexp.Regexp
	slots  map[string]int
}

// CompilePattern compiles expr into an ExtractionPattern. expr may be a
// named layout (see NamedPatterns), a pattern using grok references, or a
// plain regular expression. An empty expr selects DefaultPattern.
func CompilePattern(expr string) (*ExtractionPattern, error) {
	if expr == "" {
		expr = DefaultPattern
	}

	source := expr
	if named, ok := namedPatterns[strings.ToLower(expr)]; ok {
		expr = named
	}

	if strings.Contains(expr, "%{") {
		expanded, err := expandGrokPattern(expr)
		if err != nil {
			return nil, &ConfigError{Pattern: source, Reason: "grok expansion failed", Err: err}
		}
		expr = expanded
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &ConfigError{Pattern: source, Reason: "failed to compile regex", Err: err}
	}

	slots := make(map[string]int)
	for i, name := range re.SubexpNames() {
		if i != 0 && name != "" {
			slots[name] = i
		}
	}

	var missing []string
	for _, slot := range RequiredSlots {
		if _, ok := slots[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{
			Pattern: source,
			Reason:  fmt.Sprintf("missing required named groups: %s", strings.Join(missing, ", ")),
		}
	}

	return &ExtractionPattern{source: source, re: re, slots: slots}, nil
}

// String returns the pattern as configured
func (p *ExtractionPattern) String() string {
	return p.source
}

// match returns the captured value of every declared slot, or nil when the
// line does not match. Slots whose group did not participate map to "".
func (p *ExtractionPattern) match(line string) map[string]string {
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	fields := make(map[string]string, len(p.slots))
	for name, i := range p.slots {
		fields[name] = m[i]
	}
	return fields
}
