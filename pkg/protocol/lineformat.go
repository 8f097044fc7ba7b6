// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "strings"

// Line protocol verbs
const (
	VerbGet   = "get"
	VerbSet   = "set"
	VerbReset = "reset"
)

// Line protocol response markers
const (
	MarkerProcessing = '~'
	MarkerDebug      = '#'
	MarkerError      = '!'
	MarkerSuccess    = '+'
)

// FormatCommand builds a line command "<verb> <group> <args>" without the
// trailing newline. Empty parts are dropped.
func FormatCommand(verb, group, args string) string {
	return strings.TrimSpace(strings.Join([]string{verb, group, args}, " "))
}

// DictFormat serializes present fields as "wire=value" tokens, as used by set
func (c Config) DictFormat() string { return formatDict(&c, configFields) }

// ListFormat serializes present field names, as used by get
func (c Config) ListFormat() string { return formatList(&c, configFields) }

// DictFormat serializes present fields as "wire=value" tokens
func (s State) DictFormat() string { return formatDict(&s, stateFields) }

// ListFormat serializes present field names
func (s State) ListFormat() string { return formatList(&s, stateFields) }

// DictFormat serializes present fields as "wire=value" tokens
func (t Target) DictFormat() string { return formatDict(&t, targetFields) }

// ListFormat serializes present field names
func (t Target) ListFormat() string { return formatList(&t, targetFields) }

// ParseConfig parses "wire=value" tokens into a Config.
// Only the fields named in text are present in the result.
func ParseConfig(text string) (Config, error) {
	var c Config
	err := parseDict(&c, text, configFields)
	return c, err
}

// ParseState parses "wire=value" tokens into a State
func ParseState(text string) (State, error) {
	var s State
	err := parseDict(&s, text, stateFields)
	return s, err
}

// ParseTarget parses "wire=value" tokens into a Target
func ParseTarget(text string) (Target, error) {
	var t Target
	err := parseDict(&t, text, targetFields)
	return t, err
}

func formatDict[G any](g *G, fields []field[G]) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.present(g) {
			parts = append(parts, f.wire+"="+f.format(g))
		}
	}
	return strings.Join(parts, " ")
}

func formatList[G any](g *G, fields []field[G]) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.present(g) {
			parts = append(parts, f.wire)
		}
	}
	return strings.Join(parts, " ")
}

func parseDict[G any](g *G, text string, fields []field[G]) error {
	for _, token := range strings.Fields(text) {
		wire, value, ok := strings.Cut(token, "=")
		if !ok {
			return malformed("token %q has no value", token)
		}
		f, ok := lookupWire(fields, wire)
		if !ok {
			return malformed("unknown field %q", wire)
		}
		if err := f.parse(g, value); err != nil {
			return err
		}
	}
	return nil
}

func lookupWire[G any](fields []field[G], wire string) (field[G], bool) {
	for _, f := range fields {
		if f.wire == wire {
			return f, true
		}
	}
	return field[G]{}, false
}
