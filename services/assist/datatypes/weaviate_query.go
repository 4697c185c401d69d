// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed struct. The target type T must have json tags matching
// the expected response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("ConsultDocument").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[DocumentQueryResponse](resp)
//	if err != nil { ... }
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// GraphQLErrors joins the error messages of a GraphQL response, or
// returns nil when the response carries none. Weaviate reports schema
// and filter problems in the body, not as transport errors.
func GraphQLErrors(resp *models.GraphQLResponse) error {
	if resp == nil || len(resp.Errors) == 0 {
		return nil
	}
	msg := ""
	for i, e := range resp.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += e.Message
	}
	return fmt.Errorf("graphql errors: %s", msg)
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// Additional carries Weaviate's _additional metadata for a hit.
type Additional struct {
	ID        string   `json:"id"`
	Distance  *float32 `json:"distance"`
	Certainty *float32 `json:"certainty"`
}

// DocumentResult is a single document hit from a content collection.
type DocumentResult struct {
	Content    string     `json:"content"`
	Source     string     `json:"source"`
	Page       *int       `json:"page"`
	Category   string     `json:"category"`
	Title      string     `json:"title"`
	Additional Additional `json:"_additional"`
}

// CacheEntryResult is a single hit from the semantic cache collection.
type CacheEntryResult struct {
	QueryText  string     `json:"query_text"`
	Category   string     `json:"category"`
	DocIDs     []string   `json:"doc_ids"`
	HitCount   int        `json:"hit_count"`
	CreatedAt  int64      `json:"created_at"`
	Additional Additional `json:"_additional"`
}

// DocumentsOf extracts the hit list for className from a parsed Get
// response. Weaviate keys results by class name, so the response shape
// cannot be expressed as one static struct per collection.
type GetResponse struct {
	Get map[string][]json.RawMessage `json:"Get"`
}

// DocumentsOf unmarshals the hits of className into []DocumentResult.
func (g *GetResponse) DocumentsOf(className string) ([]DocumentResult, error) {
	raw, ok := g.Get[className]
	if !ok {
		return nil, nil
	}
	out := make([]DocumentResult, 0, len(raw))
	for _, r := range raw {
		var d DocumentResult
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, fmt.Errorf("failed to decode %s hit: %w", className, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// CacheEntriesOf unmarshals the hits of className into []CacheEntryResult.
func (g *GetResponse) CacheEntriesOf(className string) ([]CacheEntryResult, error) {
	raw, ok := g.Get[className]
	if !ok {
		return nil, nil
	}
	out := make([]CacheEntryResult, 0, len(raw))
	for _, r := range raw {
		var e CacheEntryResult
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s hit: %w", className, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// Property Structs
// =============================================================================

// DocumentProperties are the stored fields of a content document.
type DocumentProperties struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Page     int    `json:"page"`
	Category string `json:"category"`
	Title    string `json:"title"`
}

// ToMap converts DocumentProperties to the map format required by
// Weaviate's WithProperties().
func (p *DocumentProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":  p.Content,
		"source":   p.Source,
		"page":     p.Page,
		"category": p.Category,
		"title":    p.Title,
	}
}

// CacheEntryProperties are the stored fields of a semantic cache entry.
type CacheEntryProperties struct {
	QueryText string   `json:"query_text"`
	Category  string   `json:"category"`
	DocIDs    []string `json:"doc_ids"`
	HitCount  int      `json:"hit_count"`
	CreatedAt int64    `json:"created_at"`
}

// ToMap converts CacheEntryProperties to the map format required by
// Weaviate's WithProperties().
func (p *CacheEntryProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"query_text": p.QueryText,
		"category":   p.Category,
		"doc_ids":    p.DocIDs,
		"hit_count":  p.HitCount,
		"created_at": p.CreatedAt,
	}
}
