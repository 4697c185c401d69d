// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intents

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `labels:
  - name: refund
    keywords: ["환불", "refund"]
  - name: warranty
    keywords: ["보증", "warranty"]
  - name: general
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	names := r.Names()
	if len(names) == 0 {
		t.Fatal("default registry has no labels")
	}

	want := map[string]bool{"refund": true, "membership": true, "tech_support": true, GeneralLabel: true}
	got := make(map[string]bool, len(names))
	for _, n := range names {
		got[n] = true
	}
	for name := range want {
		if !got[name] {
			t.Errorf("default labels missing %q", name)
		}
	}
}

func TestNewRegistry_MissingFileFallsBack(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v, want fallback to defaults", err)
	}
	defer r.Close()

	if len(r.Names()) == 0 {
		t.Error("fallback registry has no labels")
	}
}

func TestNewRegistry_LoadsFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	names := r.Names()
	if len(names) != 3 {
		t.Fatalf("Names() = %v, want 3 labels from file", names)
	}
	if names[0] != "refund" || names[1] != "warranty" {
		t.Errorf("Names() = %v, want declaration order preserved", names)
	}

	kw := r.KeywordsFor("warranty")
	if len(kw) != 2 || kw[0] != "보증" {
		t.Errorf("KeywordsFor(warranty) = %v", kw)
	}
}

func TestNewRegistry_RejectsInvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty labels", "labels: []\n"},
		{"nameless label", "labels:\n  - keywords: [\"x\"]\n"},
		{"duplicate label", "labels:\n  - name: a\n  - name: a\n"},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			if _, err := NewRegistry(path); err == nil {
				t.Error("NewRegistry() error = nil, want validation failure")
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	if got := r.Canonical("refund"); got != "refund" {
		t.Errorf("Canonical(refund) = %q", got)
	}
	if got := r.Canonical("made_up_label"); got != GeneralLabel {
		t.Errorf("Canonical(unknown) = %q, want %q", got, GeneralLabel)
	}
}

func TestRegistry_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	if err := r.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	updated := "labels:\n  - name: upgraded\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("labels never reloaded; still %v", r.Names())
		case <-time.After(50 * time.Millisecond):
		}
		names := r.Names()
		if len(names) == 1 && names[0] == "upgraded" {
			return
		}
	}
}

func TestRegistry_ReloadKeepsActiveSetOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	// Simulate the watcher firing on a broken edit.
	if err := os.WriteFile(path, []byte("{{{{"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	r.reload()

	if names := r.Names(); len(names) != 3 {
		t.Errorf("Names() = %v, want previous set retained after bad reload", names)
	}
}

func TestRegistry_CloseIdempotent(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	r.Close()
	r.Close()
}
