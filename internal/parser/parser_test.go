package parser

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

const healthLine = `8.8.8.8 - - [15/Jan/2024:12:05:00 +0000] "GET /health HTTP/1.1" 204 0`

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
		{
			name:    "named layout",
			config:  &Config{Pattern: "combined"},
			wantErr: false,
		},
		{
			name:    "named layout is case insensitive",
			config:  &Config{Pattern: "Common"},
			wantErr: false,
		},
		{
			name:    "custom regex with required slots",
			config:  &Config{Pattern: `^(?P<ip>\S+) (?P<time>\S+) (?P<url>\S+) (?P<status>\d+)$`},
			wantErr: false,
		},
		{
			name:    "custom regex missing status",
			config:  &Config{Pattern: `^(?P<ip>\S+) (?P<time>\S+) (?P<url>\S+)$`},
			wantErr: true,
		},
		{
			name:    "invalid regex",
			config:  &Config{Pattern: `^(?P<ip>\S+`},
			wantErr: true,
		},
		{
			name:    "unknown grok reference",
			config:  &Config{Pattern: `%{NOPE:ip}`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_ConfigError(t *testing.T) {
	_, err := New(&Config{Pattern: `^(?P<ip>\S+) (?P<path>\S+)$`})
	if err == nil {
		t.Fatal("expected error for pattern without required slots")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	for _, slot := range []string{"time", "url", "status"} {
		if !strings.Contains(cfgErr.Reason, slot) {
			t.Errorf("reason %q does not name missing slot %q", cfgErr.Reason, slot)
		}
	}
	if strings.Contains(cfgErr.Reason, "ip") {
		t.Errorf("reason %q names a slot that is present", cfgErr.Reason)
	}
}

func TestParse_HealthCheck(t *testing.T) {
	for _, pattern := range []string{"", "common", "combined"} {
		name := pattern
		if name == "" {
			name = "default"
		}
		t.Run(name, func(t *testing.T) {
			p, err := New(&Config{Pattern: pattern})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			line := healthLine
			if pattern == "combined" {
				line += ` "-" "curl/8.0"`
			}

			out := p.Parse(line)
			if !out.Parsed() {
				t.Fatalf("Parse() failed: %v", out.Failure)
			}

			rec := out.Record
			want := time.Date(2024, 1, 15, 12, 5, 0, 0, time.UTC)
			if !rec.Timestamp.Equal(want) {
				t.Errorf("Timestamp = %v, want %v", rec.Timestamp, want)
			}
			if rec.ClientIP != "8.8.8.8" {
				t.Errorf("ClientIP = %q, want 8.8.8.8", rec.ClientIP)
			}
			if rec.Method != "GET" {
				t.Errorf("Method = %q, want GET", rec.Method)
			}
			if rec.Path != "/health" {
				t.Errorf("Path = %q, want /health", rec.Path)
			}
			if rec.StatusCode != 204 {
				t.Errorf("StatusCode = %d, want 204", rec.StatusCode)
			}
			if rec.ResponseBytes != 0 {
				t.Errorf("ResponseBytes = %d, want 0", rec.ResponseBytes)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	lines := []string{
		`8.8.8.8 - - [15/Jan/2024:12:05:00 +0000] "GET /health HTTP/1.1" 204 0`,
		`10.0.0.1 - - [01/Feb/2023:00:00:59 +0530] "POST /api/v1/items?id=3 HTTP/1.1" 201 5120`,
		`2001:db8::1 - - [31/Dec/2022:23:59:59 -0800] "DELETE /a/b HTTP/2.0" 404 12`,
	}

	for _, line := range lines {
		out := p.Parse(line)
		if !out.Parsed() {
			t.Fatalf("Parse(%q) failed: %v", line, out.Failure)
		}
		r := out.Record
		proto := line[strings.LastIndex(line[:strings.LastIndex(line, `"`)], " ")+1 : strings.LastIndex(line, `"`)]
		got := fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %d`,
			r.ClientIP, r.Timestamp.Format(DefaultTimeFormat), r.Method, r.Path, proto, r.StatusCode, r.ResponseBytes)
		if got != line {
			t.Errorf("round trip mismatch:\n got %s\nwant %s", got, line)
		}
	}
}

func TestParse_Failures(t *testing.T) {
	custom := `^(?P<ip>\S+) \[(?P<time>[^\]]+)\] (?P<url>\S+) (?P<status>\S+)(?: (?P<bytes>\S+))?$`

	tests := []struct {
		name       string
		pattern    string
		line       string
		wantReason string
	}{
		{
			name:       "empty line",
			line:       "",
			wantReason: "empty line",
		},
		{
			name:       "missing status",
			line:       `8.8.8.8 - - [15/Jan/2024:12:05:00 +0000] "GET /health HTTP/1.1"`,
			wantReason: "does not match",
		},
		{
			name:       "garbage",
			line:       "this is not an access log line",
			wantReason: "does not match",
		},
		{
			name:       "bad timestamp",
			line:       `8.8.8.8 - - [15/Foo/2024:12:05:00 +0000] "GET /health HTTP/1.1" 204 0`,
			wantReason: "invalid timestamp",
		},
		{
			name:       "non-numeric status",
			pattern:    custom,
			line:       `1.2.3.4 [15/Jan/2024:12:05:00 +0000] /x abc 10`,
			wantReason: "invalid status",
		},
		{
			name:       "status out of range",
			pattern:    custom,
			line:       `1.2.3.4 [15/Jan/2024:12:05:00 +0000] /x 70000 10`,
			wantReason: "invalid status",
		},
		{
			name:       "non-numeric bytes",
			pattern:    custom,
			line:       `1.2.3.4 [15/Jan/2024:12:05:00 +0000] /x 200 lots`,
			wantReason: "invalid bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(&Config{Pattern: tt.pattern})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			out := p.Parse(tt.line)
			if out.Parsed() {
				t.Fatalf("Parse() = %+v, want failure", out.Record)
			}
			if out.Failure.Line != tt.line {
				t.Errorf("Failure.Line = %q, want %q", out.Failure.Line, tt.line)
			}
			if !strings.Contains(out.Failure.Reason, tt.wantReason) {
				t.Errorf("Failure.Reason = %q, want it to contain %q", out.Failure.Reason, tt.wantReason)
			}
		})
	}
}

func TestParse_OptionalFields(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("dash bytes", func(t *testing.T) {
		out := p.Parse(`1.2.3.4 - - [15/Jan/2024:12:05:00 +0000] "GET / HTTP/1.1" 304 -`)
		if !out.Parsed() {
			t.Fatalf("Parse() failed: %v", out.Failure)
		}
		if out.Record.ResponseBytes != 0 {
			t.Errorf("ResponseBytes = %d, want 0", out.Record.ResponseBytes)
		}
	})

	t.Run("no method", func(t *testing.T) {
		out := p.Parse(`1.2.3.4 - - [15/Jan/2024:12:05:00 +0000] "/legacy" 200 10`)
		if !out.Parsed() {
			t.Fatalf("Parse() failed: %v", out.Failure)
		}
		if out.Record.Method != "" {
			t.Errorf("Method = %q, want empty", out.Record.Method)
		}
		if out.Record.Path != "/legacy" {
			t.Errorf("Path = %q, want /legacy", out.Record.Path)
		}
	})

	t.Run("crlf terminated", func(t *testing.T) {
		out := p.Parse(healthLine + "\r\n")
		if !out.Parsed() {
			t.Fatalf("Parse() failed: %v", out.Failure)
		}
	})

	t.Run("custom time format", func(t *testing.T) {
		cp, err := New(&Config{
			Pattern:    `^(?P<ip>\S+) (?P<time>\S+) (?P<url>\S+) (?P<status>\d+)$`,
			TimeFormat: time.RFC3339,
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		out := cp.Parse("1.2.3.4 2024-01-15T12:05:00Z /x 500")
		if !out.Parsed() {
			t.Fatalf("Parse() failed: %v", out.Failure)
		}
		if out.Record.StatusCode != 500 {
			t.Errorf("StatusCode = %d, want 500", out.Record.StatusCode)
		}
	})
}

func TestParser_Name(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"", "pattern(default)"},
		{"nginx", "pattern(nginx)"},
		{`^(?P<ip>\S+) (?P<time>\S+) (?P<url>\S+) (?P<status>\d+)$`, "pattern(custom)"},
	}
	for _, tt := range tests {
		p, err := New(&Config{Pattern: tt.pattern})
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.pattern, err)
		}
		if got := p.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func BenchmarkParse(b *testing.B) {
	p, err := New(nil)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Parse(healthLine)
	}
}
