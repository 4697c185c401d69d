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

// summarizeMaxTokens caps the rolling summary completion.
const summarizeMaxTokens = 400

// SummarizeNode folds the turns past the summarized watermark into the
// rolling conversation summary, seeded by the prior summary. With no
// new turns it re-emits the prior summary without a gateway call.
type SummarizeNode struct {
	graph.BaseNode
	gateway chat.Gateway
}

// NewSummarizeNode creates the summary node. It has no dependencies
// and starts with the first wave.
func NewSummarizeNode(gateway chat.Gateway) *SummarizeNode {
	return &SummarizeNode{
		BaseNode: graph.BaseNode{
			NodeName: "summarize",
			NodeKind: datatypes.KindSummary,
		},
		gateway: gateway,
	}
}

// Execute produces the updated summary and advances the watermark to
// the last folded turn.
func (n *SummarizeNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.gateway == nil {
		return nil, fmt.Errorf("%w: chat gateway", ErrNilDependency)
	}

	newTurns := state.NewTurns()
	if len(newTurns) == 0 {
		// Nothing to fold in; keep the watermark where it is.
		return &graph.Patch{
			Payload:             &datatypes.SummaryPayload{Summary: state.CurrentSummary},
			CurrentSummary:      state.CurrentSummary,
			LastSummarizedIndex: state.LastSummarizedIndex,
		}, nil
	}

	var b strings.Builder
	b.WriteString("다음 상담 대화를 요약하세요.\n")
	if state.CurrentSummary != "" {
		fmt.Fprintf(&b, "\n지금까지의 요약:\n%s\n", state.CurrentSummary)
	}
	fmt.Fprintf(&b, "\n새 대화:\n%s\n", renderTurns(newTurns))
	b.WriteString("\nJSON으로만 답하세요: " +
		`{"summary": "누적 요약", "customer_issue": "고객의 문제", "agent_action": "상담사의 조치"}`)

	raw, err := n.gateway.Complete(ctx, withPrefix(state.StaticPrefix, b.String()), chat.GenerationParams{
		Temperature: f32(0.2),
		MaxTokens:   iptr(summarizeMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("summarize completion: %w", err)
	}

	var payload datatypes.SummaryPayload
	if err := decodeOutput(raw, &payload); err != nil {
		return nil, err
	}

	return &graph.Patch{
		Payload:             &payload,
		CurrentSummary:      payload.Summary,
		LastSummarizedIndex: newTurns[len(newTurns)-1].Index,
	}, nil
}
