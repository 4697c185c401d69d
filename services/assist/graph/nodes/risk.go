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

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
)

// riskStrongNegative is the valence at or below which sentiment alone
// lifts an otherwise quiet turn to medium.
const riskStrongNegative = -0.6

// Escalation term groups scanned in recent customer turns.
var (
	cancellationTerms = []string{"해지", "해약", "탈퇴", "환불", "취소"}
	complaintTerms    = []string{"불만", "항의", "신고", "소비자원", "공정위", "고소", "법적", "변호사"}
)

// RiskNode grades escalation risk from escalation keywords in the
// customer's recent turns combined with the sentiment estimate.
//
// Pure rule node: no gateway or store I/O, so it never fails on an
// upstream outage. A null sentiment result degrades the grade, it does
// not fail the node.
type RiskNode struct {
	graph.BaseNode
}

// NewRiskNode creates the risk grader downstream of sentiment.
func NewRiskNode() *RiskNode {
	return &RiskNode{
		BaseNode: graph.BaseNode{
			NodeName:         "risk",
			NodeKind:         datatypes.KindRisk,
			NodeDependencies: []string{"sentiment"},
		},
	}
}

// Execute grades the turn: high when cancellation or complaint terms
// co-occur with negative sentiment, medium when either signal stands
// alone, low otherwise.
func (n *RiskNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reasons []string
	termHit := false
	for _, t := range recentTurns(state.Turns, contextWindow) {
		if t.Role != datatypes.RoleCustomer {
			continue
		}
		for _, term := range cancellationTerms {
			if strings.Contains(t.Text, term) {
				termHit = true
				reasons = append(reasons, fmt.Sprintf("고객 발화에 이탈 신호 '%s' 포함", term))
			}
		}
		for _, term := range complaintTerms {
			if strings.Contains(t.Text, term) {
				termHit = true
				reasons = append(reasons, fmt.Sprintf("고객 발화에 불만 신호 '%s' 포함", term))
			}
		}
	}

	negative := false
	strongNegative := false
	if res, ok := state.ResultFor(datatypes.KindSentiment); ok && !res.IsNull() {
		if sp, ok := res.Payload.(*datatypes.SentimentPayload); ok {
			negative = sp.Valence <= sentimentNegativeBound
			strongNegative = sp.Valence <= riskStrongNegative
			if negative {
				reasons = append(reasons, fmt.Sprintf("부정적 감정 상태 (valence %.2f)", sp.Valence))
			}
		}
	}

	level := datatypes.RiskLow
	switch {
	case termHit && negative:
		level = datatypes.RiskHigh
	case termHit || strongNegative:
		level = datatypes.RiskMedium
	}

	if reasons == nil {
		reasons = []string{}
	}
	return &graph.Patch{Payload: &datatypes.RiskPayload{
		RiskLevel: level,
		Reasons:   dedupeReasons(reasons),
	}}, nil
}

// dedupeReasons collapses repeated reason strings, preserving order.
// The same term can match several turns in the window.
func dedupeReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := reasons[:0]
	for _, r := range reasons {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
