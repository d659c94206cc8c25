// Package config implements the .conf tokenizer and schema layer (§6):
// a small key=value format with comments, consumed by the logger and by
// cmd/daemonlibd's --check-config surface. It knows nothing about what
// the keys mean beyond daemonlib's own three options (log.level,
// log.debug_filter, log.max_output_size) — the debug-filter *grammar* is tokenized here, but
// its group-keyword semantics are interpreted by package logger.
//
// The tokenizer is hand-rolled over bufio.Scanner rather than borrowed
// from a third-party format library: the grammar here (# comments,
// name = value, \r-as-whitespace, case-insensitive last-write-wins
// duplicates, a 32KiB per-line cap) is bespoke and matches no general
// ini/toml/yaml dialect in this corpus — see DESIGN.md.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"

	"github.com/craigwin-ni/daemonlib/errs"
)

// maxLineSize is the largest line Load will parse; longer lines are
// dropped with a warning rather than truncated.
const maxLineSize = 32 * 1024

// scannerBufferSize must exceed maxLineSize so Load can distinguish an
// over-long line from a scanner buffer overflow.
const scannerBufferSize = maxLineSize * 2

// LogConfig holds the three options the logger consumes from the .conf
// file. Level and DebugFilter are kept as raw strings here; package
// logger is responsible for interpreting them (ParseLevel grammar,
// debug-filter group-keyword semantics) so this package stays free of
// logger's vocabulary.
type LogConfig struct {
	Level         string            `yaml:"level"`
	DebugFilter   string            `yaml:"debug_filter"`
	MaxOutputSize datasize.ByteSize `yaml:"max_output_size"`
}

// Config is the full schema this layer recognizes.
type Config struct {
	Log LogConfig `yaml:"log"`
}

// Default returns the schema's documented defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:         "info",
			DebugFilter:   "",
			MaxOutputSize: 5 * datasize.MB,
		},
	}
}

// Warning is a non-fatal parse issue: a dropped over-long line, a line
// without '=', an empty option name, or an unparsable
// log.max_output_size. Unrecognized keys are ignored without a warning. Warnings are only printed to stderr by the CLI's
// --check-config path; in normal operation they're suppressed and the
// offending option keeps its default.
type Warning struct {
	Line int
	Msg  string
}

// Load tokenizes the .conf file at path into Config. A missing file is
// reported as a *errs.Error with Kind errs.NotFound and Default() is
// still returned so callers can fall back to it without a second call.
func Load(path string) (*Config, []Warning, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, errs.New("config.Load", errs.NotFound, "config file not found, using defaults")
		}
		return cfg, nil, errs.Wrap("config.Load", err)
	}
	defer f.Close()

	raw, warnings, err := tokenize(f)
	if err != nil {
		return cfg, warnings, errs.Wrap("config.Load", err)
	}

	if v, ok := raw["log.level"]; ok {
		cfg.Log.Level = v
	}
	if v, ok := raw["log.debug_filter"]; ok {
		cfg.Log.DebugFilter = v
	}
	if v, ok := raw["log.max_output_size"]; ok {
		var sz datasize.ByteSize
		if perr := sz.UnmarshalText([]byte(v)); perr == nil {
			cfg.Log.MaxOutputSize = sz
		} else {
			warnings = append(warnings, Warning{Msg: "log.max_output_size: " + perr.Error()})
		}
	}

	return cfg, warnings, nil
}

// tokenize implements the on-disk grammar: "# ..." comments, "name =
// value" assignments, trailing whitespace trimmed, \r accepted as
// whitespace, duplicate names (case-insensitive) last-wins, lines over
// 32KiB dropped with a warning. A line longer than scannerBufferSize
// (64KiB) is not dropped: tokenizing stops there and the scanner's
// error is returned.
func tokenize(f *os.File) (map[string]string, []Warning, error) {
	raw := make(map[string]string)
	var warnings []Warning

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), scannerBufferSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if len(line) > maxLineSize {
			warnings = append(warnings, Warning{Line: lineNo, Msg: "line exceeds 32KiB, dropped"})
			continue
		}

		line = strings.ReplaceAll(line, "\r", " ")
		line = strings.TrimRight(line, " \t")

		trimmedStart := strings.TrimLeft(line, " \t")
		if trimmedStart == "" || strings.HasPrefix(trimmedStart, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			warnings = append(warnings, Warning{Line: lineNo, Msg: "missing '=' in assignment"})
			continue
		}

		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" {
			warnings = append(warnings, Warning{Line: lineNo, Msg: "empty option name"})
			continue
		}
		raw[strings.ToLower(name)] = value
	}
	if err := scanner.Err(); err != nil {
		return raw, warnings, err
	}
	return raw, warnings, nil
}

// DebugRule is one parsed clause of the debug-filter grammar:
//
//	filter := rule ("," rule)*
//	rule   := ("+" | "-") name (":" line)?
//	name   := 1..64 bytes
//	line   := 1..99999
//
// DebugRule carries the raw name forward uninterpreted; whether it
// names a group keyword or a source basename is package logger's
// concern.
type DebugRule struct {
	Included bool
	Name     string
	HasLine  bool
	Line     int
}

// ParseDebugFilter tokenizes a log.debug_filter value into its rules, in
// the order they appear (rule order matters: later rules win).
func ParseDebugFilter(s string) ([]DebugRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	clauses := strings.Split(s, ",")
	rules := make([]DebugRule, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		if clause[0] != '+' && clause[0] != '-' {
			return nil, errs.New("config.ParseDebugFilter", errs.IO, "rule must start with '+' or '-': "+clause)
		}
		included := clause[0] == '+'
		rest := clause[1:]

		name := rest
		hasLine := false
		var line int
		if idx := strings.IndexByte(rest, ':'); idx >= 0 {
			name = rest[:idx]
			n, err := strconv.Atoi(rest[idx+1:])
			if err != nil || n < 1 || n > 99999 {
				return nil, errs.New("config.ParseDebugFilter", errs.IO, "invalid line number in rule: "+clause)
			}
			hasLine = true
			line = n
		}

		if len(name) < 1 || len(name) > 64 {
			return nil, errs.New("config.ParseDebugFilter", errs.IO, "name must be 1..64 bytes: "+clause)
		}

		rules = append(rules, DebugRule{Included: included, Name: name, HasLine: hasLine, Line: line})
	}
	return rules, nil
}
