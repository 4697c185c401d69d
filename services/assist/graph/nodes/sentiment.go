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
)

// sentimentMaxTokens caps the estimate completion.
const sentimentMaxTokens = 200

// Tag thresholds: valence at or below the negative bound tags the turn
// negative, at or above the positive bound positive.
const (
	sentimentNegativeBound = -0.3
	sentimentPositiveBound = 0.3
)

// SentimentNode estimates the customer's emotional state as a
// valence/arousal pair with a coarse tag.
type SentimentNode struct {
	graph.BaseNode
	gateway chat.Gateway
}

// NewSentimentNode creates the sentiment estimator. It has no
// dependencies and anchors the risk branch.
func NewSentimentNode(gateway chat.Gateway) *SentimentNode {
	return &SentimentNode{
		BaseNode: graph.BaseNode{
			NodeName: "sentiment",
			NodeKind: datatypes.KindSentiment,
		},
		gateway: gateway,
	}
}

// Execute returns valence in [-1,1], arousal in [0,1], and a tag. Out
// of range model values are clamped; a missing tag is derived from
// valence.
func (n *SentimentNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.gateway == nil {
		return nil, fmt.Errorf("%w: chat gateway", ErrNilDependency)
	}

	text := strings.TrimSpace(state.LatestCustomerText())
	if text == "" {
		return nil, ErrNoCustomerTurn
	}

	var b strings.Builder
	b.WriteString("고객의 감정 상태를 추정하세요. valence는 -1(매우 부정)부터 1(매우 긍정), arousal은 0(차분)부터 1(격앙)입니다.\n")
	if recent := recentTurns(state.Turns, contextWindow); len(recent) > 0 {
		fmt.Fprintf(&b, "\n최근 대화:\n%s\n", renderTurns(recent))
	}
	fmt.Fprintf(&b, "\n평가할 발화: %s\n", text)
	b.WriteString("\nJSON으로만 답하세요: " +
		`{"valence": 0.0, "arousal": 0.0, "tag": "negative|neutral|positive"}`)

	raw, err := n.gateway.Complete(ctx, withPrefix(state.StaticPrefix, b.String()), chat.GenerationParams{
		Temperature: f32(0.0),
		MaxTokens:   iptr(sentimentMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment completion: %w", err)
	}

	var payload datatypes.SentimentPayload
	if err := decodeOutput(raw, &payload); err != nil {
		return nil, err
	}
	payload.Valence = clamp(payload.Valence, -1, 1)
	payload.Arousal = clamp(payload.Arousal, 0, 1)
	if payload.Tag == "" {
		payload.Tag = tagForValence(payload.Valence)
	}

	return &graph.Patch{Payload: &payload}, nil
}

// tagForValence derives the coarse tag from the valence estimate.
func tagForValence(valence float64) string {
	switch {
	case valence <= sentimentNegativeBound:
		return "negative"
	case valence >= sentimentPositiveBound:
		return "positive"
	default:
		return "neutral"
	}
}
