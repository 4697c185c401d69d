// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
)

// contextWindow is how many trailing turns the single-utterance nodes
// include for context.
const contextWindow = 6

// roleTag returns the transcript marker for a speaker role.
func roleTag(role datatypes.SpeakerRole) string {
	if role == datatypes.RoleCustomer {
		return "고객"
	}
	return "상담사"
}

// renderTurns formats turns one per line in transcript order.
func renderTurns(turns []datatypes.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", roleTag(t.Role), t.Text)
	}
	return b.String()
}

// recentTurns returns the last n turns.
func recentTurns(turns []datatypes.Turn, n int) []datatypes.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// withPrefix prepends the static per-binding prefix to the task body.
// The prefix bytes must stay identical across calls within one binding
// so provider-side prompt caches stay warm; nothing here may vary with
// the turn.
func withPrefix(prefix, body string) string {
	if prefix == "" {
		return body
	}
	return prefix + "\n\n" + body
}

// renderLabels formats the intent label set with keyword hints for the
// classification prompt.
func renderLabels(labels []intents.Label) string {
	var b strings.Builder
	for i, l := range labels {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(l.Name)
		if len(l.Keywords) > 0 {
			fmt.Fprintf(&b, "(%s)", strings.Join(l.Keywords, " · "))
		}
	}
	return b.String()
}

// extractJSON returns the first balanced JSON object within raw. Model
// responses routinely wrap the object in prose or markdown fences.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", ErrMalformedOutput
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", ErrMalformedOutput
}

// decodeOutput unmarshals the first JSON object in raw into v.
func decodeOutput(raw string, v any) error {
	obj, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// snippet truncates s to max runes on a rune boundary, appending an
// ellipsis when cut.
func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func f32(v float32) *float32 { return &v }

func iptr(v int) *int { return &v }
