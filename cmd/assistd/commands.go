// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	seedDir         string
	seedCollection  string
	seedCategory    string
	cacheCollection string
	cacheCategory   string

	rootCmd = &cobra.Command{
		Use:   "assistd",
		Short: "Backend for the real-time consultation assistant",
		Long: `assistd runs the signaling, transcription-analysis and knowledge
				services behind the consultation assistant: a WebSocket hub for
				WebRTC call setup, per-room analysis agents, and the vector
				store that backs FAQ search and the semantic response cache.`,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling and analysis server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Knowledge Base ---
	seedCmd = &cobra.Command{
		Use:   "seed [file or directory path...]",
		Short: "Split local documents and load them into the vector store",
		Long: `seed walks the given files and directories, splits every .md and
				.txt file into overlapping chunks, embeds them and upserts them
				into the vector store. Chunk IDs derive from content, so
				re-seeding the same material is idempotent.`,
		Run: runSeed, // Defined in cmd_seed.go
	}

	// --- Semantic Cache ---
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Administer the semantic response cache",
	}
	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop cached retrieval responses",
		Run:   runCacheClear, // Defined in cmd_cache.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedDir, "dir", "", "Directory to scan, in addition to any positional paths")
	seedCmd.Flags().StringVar(&seedCollection, "collection", "", "Target collection (defaults to VECTOR_COLLECTION)")
	seedCmd.Flags().StringVar(&seedCategory, "category", "faq", "Category stored on every chunk ('faq' or 'policy')")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().StringVar(&cacheCollection, "collection", "", "Collection whose cache to clear (defaults to VECTOR_COLLECTION)")
	cacheClearCmd.Flags().StringVar(&cacheCategory, "category", "", "Only drop entries in this category; empty drops everything")
}
