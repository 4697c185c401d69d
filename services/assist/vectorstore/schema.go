// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// hnswDimensionFloor is the embedding dimension above which the
// collections are created with an HNSW index. Smaller vectors use the
// flat index, which needs no build phase and stays exact.
const hnswDimensionFloor = 2000

// CacheClassSuffix distinguishes a cache collection from the content
// collection it fronts ("AssistDocs" → "AssistDocsCache").
const CacheClassSuffix = "Cache"

// DocumentSchema describes a content collection. Vectorizer is "none":
// embeddings are computed by the chat gateway and supplied on writes.
func DocumentSchema(className string, embeddingDim int) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:           className,
		Description:     "Content documents searched by dense-vector similarity.",
		Vectorizer:      "none",
		VectorIndexType: indexTypeFor(embeddingDim),
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The document body.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Origin of the document (file path, URL, import tag).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "Page number within the source, 0 when not paginated.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Search scope: policy area or FAQ grouping.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Short human-readable title.",
				Tokenization: "word",
			},
		},
	}
}

// CacheSchema describes the semantic cache collection paired with a
// content collection. Entries carry the query embedding as their vector
// and reference content documents by id.
func CacheSchema(className string, embeddingDim int) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:           className,
		Description:     "Prior query embeddings with the document ids they resolved to.",
		Vectorizer:      "none",
		VectorIndexType: indexTypeFor(embeddingDim),
		Properties: []*models.Property{
			{
				Name:         "query_text",
				DataType:     []string{"text"},
				Description:  "The original query, kept for operator inspection.",
				Tokenization: "word",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Cache scope; lookups never cross categories.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "doc_ids",
				DataType:    []string{"text[]"},
				Description: "Content document ids this query resolved to.",
			},
			{
				Name:            "hit_count",
				DataType:        []string{"int"},
				Description:     "Times this entry answered a lookup. Tie-break key.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"int"},
				Description:     "Unix millis at insert. Second tie-break key.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// indexTypeFor selects the vector index by embedding dimension. The
// choice is invisible to callers; searches behave identically.
func indexTypeFor(embeddingDim int) string {
	if embeddingDim > hnswDimensionFloor {
		return "hnsw"
	}
	return "flat"
}

// EnsureSchema creates the content and cache collections when absent.
// Existing collections are left untouched, so dimension changes require
// a manual migration.
func EnsureSchema(ctx context.Context, client *weaviate.Client, collection string, embeddingDim int) error {
	classes := []*models.Class{
		DocumentSchema(collection, embeddingDim),
		CacheSchema(collection+CacheClassSuffix, embeddingDim),
	}

	for _, class := range classes {
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Debug("schema already exists", "class", class.Class)
			continue
		}

		slog.Info("creating schema", "class", class.Class, "index", class.VectorIndexType)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create schema for %s: %w", class.Class, err)
		}
	}
	return nil
}
