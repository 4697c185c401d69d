// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/chat"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/secrets"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
)

var (
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ",
		"\n\n", "\n", " ", "",
	}

	seedExtensions = map[string]bool{
		".md":       true,
		".markdown": true,
		".txt":      true,
	}
)

// runSeed splits the given documents into chunks, embeds them and
// upserts them into the vector store.
func runSeed(cmd *cobra.Command, args []string) {
	paths := args
	if seedDir != "" {
		paths = append(paths, seedDir)
	}
	if len(paths) == 0 {
		log.Fatal("seed needs at least one file or directory argument (or --dir)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := collectSeedFiles(paths)
	if err != nil {
		log.Fatalf("Scanning inputs: %v", err)
	}
	if len(files) == 0 {
		log.Fatal("No .md or .txt files found under the given paths")
	}

	collection := seedCollection
	if collection == "" {
		collection = envDefault("VECTOR_COLLECTION", "AssistDocs")
	}

	store := openStore(ctx, collection, embeddingGateway())

	totalChunks := 0
	start := time.Now()
	for _, file := range files {
		stored, err := seedFile(ctx, store, collection, file, seedCategory)
		if err != nil {
			log.Fatalf("Seeding %s: %v", file, err)
		}
		log.Printf("Seeded %s (%d chunks)", file, stored)
		totalChunks += stored
	}
	log.Printf("Done: %d files, %d chunks into %s in %s",
		len(files), totalChunks, collection, time.Since(start).Round(time.Millisecond))
}

// collectSeedFiles expands files and directories into the flat list of
// seedable documents. Hidden directories are skipped.
func collectSeedFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if seedExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// seedFile splits one document and upserts its chunks. Returns the
// number of chunks actually stored.
func seedFile(ctx context.Context, store *vectorstore.WeaviateStore, collection, path, category string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	chunks, err := splitterFor(path).SplitText(string(raw))
	if err != nil {
		return 0, fmt.Errorf("split %s: %w", path, err)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	docs := make([]vectorstore.Document, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		page := i + 1
		docs = append(docs, vectorstore.Document{
			Content:  chunk,
			Source:   path,
			Page:     &page,
			Category: category,
			Title:    title,
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}
	return store.Upsert(ctx, collection, docs)
}

// splitterFor picks separators by file type; markdown splits on
// headings first so chunks follow the document structure.
func splitterFor(path string) textsplitter.TextSplitter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		)
	}
}

// embeddingGateway builds the chat gateway used solely for embeddings.
func embeddingGateway() *chat.OpenAIGateway {
	secrets.Init()
	key, err := secrets.FromEnv("CHAT_API_KEY")
	if err != nil {
		log.Fatalf("Sealing CHAT_API_KEY: %v", err)
	}
	gw, err := chat.NewOpenAIGateway(chat.OpenAIConfig{
		BaseURL:        os.Getenv("CHAT_BASE_URL"),
		Model:          envDefault("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel: envDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		APIKey:         key,
	})
	if err != nil {
		log.Fatalf("Chat gateway: %v", err)
	}
	return gw
}

// openStore dials the vector backend. Seeding and cache admin are
// pointless without one, so unreachable is fatal rather than degraded.
// The embedder may be nil for operations that never embed.
func openStore(ctx context.Context, collection string, embedder vectorstore.Embedder) *vectorstore.WeaviateStore {
	url := os.Getenv("VECTOR_DB_URL")
	if url == "" {
		log.Fatal("VECTOR_DB_URL is not set")
	}
	store, err := vectorstore.NewWeaviateStore(ctx, vectorstore.WeaviateConfig{
		URL:          url,
		EmbeddingDim: envInt("EMBEDDING_DIM"),
	}, embedder, collection)
	if err != nil {
		log.Fatalf("Connect vector store: %v", err)
	}
	if !store.Ready() {
		log.Fatalf("Vector backend %s is unreachable", url)
	}
	return store
}
