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

// draftMaxTokens caps the candidate generation completion.
const draftMaxTokens = 500

// maxDraftCandidates bounds the candidates surfaced to the agent.
const maxDraftCandidates = 3

// DraftReplyNode composes candidate replies for the human agent from
// the summary, the classified intent, and the retrieved policy
// suggestions. Null upstream results narrow the prompt instead of
// failing the node.
type DraftReplyNode struct {
	graph.BaseNode
	gateway chat.Gateway
}

// NewDraftReplyNode creates the reply drafter. It joins the summarize
// and policy branches, so it runs in the final wave.
func NewDraftReplyNode(gateway chat.Gateway) *DraftReplyNode {
	return &DraftReplyNode{
		BaseNode: graph.BaseNode{
			NodeName:         "draft_reply",
			NodeKind:         datatypes.KindDraft,
			NodeDependencies: []string{"summarize", "intent", "rag_policy"},
		},
		gateway: gateway,
	}
}

// Execute returns one to three candidate replies.
func (n *DraftReplyNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.gateway == nil {
		return nil, fmt.Errorf("%w: chat gateway", ErrNilDependency)
	}

	text := strings.TrimSpace(state.LatestCustomerText())
	if text == "" {
		return nil, ErrNoCustomerTurn
	}

	var b strings.Builder
	b.WriteString("상담사가 고객에게 그대로 보낼 수 있는 답변 후보를 작성하세요. 정중하고 구체적으로.\n")
	if res, ok := state.ResultFor(datatypes.KindSummary); ok && !res.IsNull() {
		if sp, ok := res.Payload.(*datatypes.SummaryPayload); ok && sp.Summary != "" {
			fmt.Fprintf(&b, "\n대화 요약: %s\n", sp.Summary)
		}
	}
	if res, ok := state.ResultFor(datatypes.KindIntent); ok && !res.IsNull() {
		if ip, ok := res.Payload.(*datatypes.IntentPayload); ok && ip.Label != "" {
			fmt.Fprintf(&b, "고객 의도: %s\n", ip.Label)
		}
	}
	if res, ok := state.ResultFor(datatypes.KindRAG); ok && !res.IsNull() {
		if rp, ok := res.Payload.(*datatypes.RAGPayload); ok && len(rp.Recommendations) > 0 {
			b.WriteString("참고할 정책:\n")
			for _, rec := range rp.Recommendations {
				fmt.Fprintf(&b, "- %s: %s\n", rec.Title, rec.Terms)
			}
		}
	}
	fmt.Fprintf(&b, "\n고객의 마지막 발화: %s\n", text)
	fmt.Fprintf(&b, "\n1~%d개의 후보를 JSON으로만 답하세요: ", maxDraftCandidates)
	b.WriteString(`{"candidates": ["답변 후보 1", "답변 후보 2"]}`)

	raw, err := n.gateway.Complete(ctx, withPrefix(state.StaticPrefix, b.String()), chat.GenerationParams{
		Temperature: f32(0.7),
		MaxTokens:   iptr(draftMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("draft completion: %w", err)
	}

	var payload datatypes.DraftPayload
	if err := decodeOutput(raw, &payload); err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(payload.Candidates))
	for _, c := range payload.Candidates {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, ErrMalformedOutput
	}
	if len(kept) > maxDraftCandidates {
		kept = kept[:maxDraftCandidates]
	}
	payload.Candidates = kept

	return &graph.Patch{Payload: &payload}, nil
}
