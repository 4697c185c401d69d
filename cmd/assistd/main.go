// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/baro-gochi/realtime-assist-agent-sub001/pkg/logging"
)

var logger *logging.Logger

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// A local .env is a developer convenience; absence is normal.
		_ = godotenv.Load()
		logger = logging.Setup("assist")
	}
}
