// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/chat"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
)

// intentMaxTokens caps the classification completion.
const intentMaxTokens = 300

// IntentNode classifies the triggering customer utterance against the
// configured label set.
type IntentNode struct {
	graph.BaseNode
	gateway chat.Gateway
}

// NewIntentNode creates the intent classifier. It has no dependencies
// and anchors the policy branch.
func NewIntentNode(gateway chat.Gateway) *IntentNode {
	return &IntentNode{
		BaseNode: graph.BaseNode{
			NodeName: "intent",
			NodeKind: datatypes.KindIntent,
		},
		gateway: gateway,
	}
}

// Execute returns the label, a confidence in [0,1], and the utterance
// spans the model cited as evidence. A label outside the configured
// set is mapped to the general label rather than passed through.
func (n *IntentNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.gateway == nil {
		return nil, fmt.Errorf("%w: chat gateway", ErrNilDependency)
	}

	text := strings.TrimSpace(state.LatestCustomerText())
	if text == "" {
		return nil, ErrNoCustomerTurn
	}

	labels := state.Labels
	if len(labels) == 0 {
		labels = intents.DefaultLabels()
	}

	var b strings.Builder
	b.WriteString("고객 발화의 의도를 분류하세요.\n")
	fmt.Fprintf(&b, "\n가능한 의도: %s\n", renderLabels(labels))
	if recent := recentTurns(state.Turns, contextWindow); len(recent) > 0 {
		fmt.Fprintf(&b, "\n최근 대화:\n%s\n", renderTurns(recent))
	}
	fmt.Fprintf(&b, "\n분류할 발화: %s\n", text)
	b.WriteString("\nJSON으로만 답하세요: " +
		`{"label": "의도", "confidence": 0.0, "evidence_spans": ["근거 구절"]}`)

	raw, err := n.gateway.Complete(ctx, withPrefix(state.StaticPrefix, b.String()), chat.GenerationParams{
		Temperature: f32(0.0),
		MaxTokens:   iptr(intentMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("intent completion: %w", err)
	}

	var payload datatypes.IntentPayload
	if err := decodeOutput(raw, &payload); err != nil {
		return nil, err
	}
	payload.Label = canonicalLabel(labels, payload.Label)
	payload.Confidence = clamp(payload.Confidence, 0, 1)

	return &graph.Patch{Payload: &payload}, nil
}

// canonicalLabel maps raw onto the configured set, falling back to the
// general label for anything the model invented.
func canonicalLabel(labels []intents.Label, raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, l := range labels {
		if l.Name == raw {
			return l.Name
		}
	}
	return intents.GeneralLabel
}
