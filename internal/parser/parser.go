package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/loglyzer/pkg/types"
)

// DefaultTimeFormat is the layout of the bracketed access-log timestamp,
// e.g. 15/Jan/2024:12:05:00 +0000
const DefaultTimeFormat = "02/Jan/2006:15:04:05 -0700"

// Config holds parser configuration
type Config struct {
	Pattern    string `yaml:"pattern,omitempty"`     // Named layout, grok or regex; empty for DefaultPattern
	TimeFormat string `yaml:"time_format,omitempty"` // Go layout for the time slot
}

// ParseFailure describes why a line could not be turned into a record
type ParseFailure struct {
	Line   string
	Reason string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("unparsable line: %s", f.Reason)
}

// Outcome is the result of parsing one line: exactly one of Record or
// Failure is set.
type Outcome struct {
	Record  *types.LogRecord
	Failure *ParseFailure
}

// Parsed reports whether the line produced a record
func (o Outcome) Parsed() bool {
	return o.Record != nil
}

func failed(line, format string, args ...interface{}) Outcome {
	return Outcome{Failure: &ParseFailure{Line: line, Reason: fmt.Sprintf(format, args...)}}
}

// Parser converts access-log lines into records using an ExtractionPattern
type Parser struct {
	pattern    *ExtractionPattern
	timeFormat string
}

// New compiles the configured pattern. A nil cfg selects the defaults.
func New(cfg *Config) (*Parser, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	pattern, err := CompilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}

	return &Parser{pattern: pattern, timeFormat: timeFormat}, nil
}

// Pattern returns the active extraction pattern
func (p *Parser) Pattern() *ExtractionPattern {
	return p.pattern
}

// TimeFormat returns the layout used for the time slot
func (p *Parser) TimeFormat() string {
	return p.timeFormat
}

// Parse turns one line into an Outcome. It never fails for the whole input:
// malformed lines come back as a Failure.
func (p *Parser) Parse(line string) Outcome {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return failed(line, "empty line")
	}

	fields := p.pattern.match(line)
	if fields == nil {
		return failed(line, "line does not match pattern")
	}

	for _, slot := range RequiredSlots {
		if fields[slot] == "" {
			return failed(line, "missing field %q", slot)
		}
	}

	ts, err := time.Parse(p.timeFormat, fields[SlotTime])
	if err != nil {
		return failed(line, "invalid timestamp %q", fields[SlotTime])
	}

	status, err := strconv.ParseUint(fields[SlotStatus], 10, 16)
	if err != nil {
		return failed(line, "invalid status %q", fields[SlotStatus])
	}

	var size uint64
	if raw := fields[SlotBytes]; raw != "" && raw != "-" {
		size, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return failed(line, "invalid bytes %q", raw)
		}
	}

	return Outcome{Record: &types.LogRecord{
		ClientIP:      fields[SlotIP],
		Timestamp:     ts,
		Method:        fields[SlotMethod],
		Path:          fields[SlotURL],
		StatusCode:    uint16(status),
		ResponseBytes: size,
	}}
}

// Name returns the parser name
func (p *Parser) Name() string {
	if _, ok := namedPatterns[strings.ToLower(p.pattern.source)]; ok {
		return "pattern(" + strings.ToLower(p.pattern.source) + ")"
	}
	if p.pattern.source == DefaultPattern {
		return "pattern(default)"
	}
	return "pattern(custom)"
}
