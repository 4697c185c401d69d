// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intents holds the intent label set the classifier chooses
// from. Labels load from a YAML file and hot-reload on edit; when no
// file is configured the compiled defaults apply.
package intents

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce is how long to wait after the last file event before
// reloading, so editors that write in bursts trigger one reload.
const reloadDebounce = 200 * time.Millisecond

// GeneralLabel is the fallback for model outputs not in the set.
const GeneralLabel = "general"

// Label is one intent the classifier may assign. Keywords are hints
// included in the classification prompt and in risk keyword matching,
// not a rule engine: the model decides, the keywords steer.
type Label struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// Config is the YAML file shape.
type Config struct {
	Labels []Label `yaml:"labels"`
}

// DefaultLabels returns the compiled label set for consultation
// sessions. Keyword hints carry both Korean and English forms since
// transcripts arrive in either.
func DefaultLabels() []Label {
	return []Label{
		{Name: "refund", Keywords: []string{"환불", "refund", "돈 돌려"}},
		{Name: "exchange", Keywords: []string{"교환", "exchange", "바꿔"}},
		{Name: "cancellation", Keywords: []string{"해지", "취소", "cancel"}},
		{Name: "membership", Keywords: []string{"등급", "VIP", "멤버십", "회원"}},
		{Name: "tech_support", Keywords: []string{"고장", "안 켜", "오류", "에러", "작동"}},
		{Name: "delivery", Keywords: []string{"배송", "택배", "도착"}},
		{Name: "billing", Keywords: []string{"요금", "청구", "결제"}},
		{Name: "complaint", Keywords: []string{"불만", "항의", "최악", "화가"}},
		{Name: "product_inquiry", Keywords: []string{"제품", "상품", "스펙", "사양"}},
		{Name: GeneralLabel},
	}
}

// Registry is the live label set.
//
// # Thread Safety
//
// Labels/Names/Canonical take a read lock; the watcher goroutine is the
// only writer after construction.
type Registry struct {
	mu     sync.RWMutex
	labels []Label

	path     string
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewRegistry loads labels from path, or the compiled defaults when
// path is empty or the file is absent. A malformed file at startup is
// an error; a malformed file during reload keeps the previous set.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		labels: DefaultLabels(),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "intents"),
	}

	if path == "" {
		r.logger.Info("no intent config, using compiled defaults", "labels", len(r.labels))
		return r, nil
	}

	cfg, err := loadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("intent config missing, using compiled defaults", "path", path)
			return r, nil
		}
		return nil, fmt.Errorf("load intent config: %w", err)
	}

	r.labels = cfg.Labels
	r.logger.Info("loaded intent config", "path", path, "labels", len(cfg.Labels))
	return r, nil
}

// Watch starts hot reload on the config file. Safe to skip for
// registries built without a path.
func (r *Registry) Watch() error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, and watching
	// the path directly loses the inode after the first rename.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	r.watcher = watcher
	go r.watchLoop()
	return nil
}

// Close stops the watcher. Idempotent.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
	return nil
}

// Labels returns a copy of the active label set.
func (r *Registry) Labels() []Label {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Label, len(r.labels))
	copy(out, r.labels)
	return out
}

// Names returns the active label names in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.labels))
	for i, l := range r.labels {
		out[i] = l.Name
	}
	return out
}

// Canonical maps a model-produced label onto the active set, falling
// back to GeneralLabel for anything unknown.
func (r *Registry) Canonical(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.labels {
		if l.Name == name {
			return name
		}
	}
	return GeneralLabel
}

// KeywordsFor returns the keyword hints of a label, nil when unknown.
func (r *Registry) KeywordsFor(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.labels {
		if l.Name == name {
			out := make([]string, len(l.Keywords))
			copy(out, l.Keywords)
			return out
		}
	}
	return nil
}

// watchLoop debounces file events into reloads.
func (r *Registry) watchLoop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(r.path)
	for {
		select {
		case <-r.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("intent watcher error", "error", err)
		}
	}
}

// reload swaps in the file's label set, keeping the active set when
// the file is unreadable or invalid.
func (r *Registry) reload() {
	cfg, err := loadFile(r.path)
	if err != nil {
		r.logger.Warn("intent config reload failed, keeping active set",
			"path", r.path,
			"error", err,
		)
		return
	}

	r.mu.Lock()
	r.labels = cfg.Labels
	r.mu.Unlock()
	r.logger.Info("intent config reloaded", "path", r.path, "labels", len(cfg.Labels))
}

// loadFile parses and validates a YAML label file.
func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Labels) == 0 {
		return Config{}, fmt.Errorf("%s defines no labels", path)
	}
	seen := make(map[string]bool, len(cfg.Labels))
	for _, l := range cfg.Labels {
		if l.Name == "" {
			return Config{}, fmt.Errorf("%s contains a label with no name", path)
		}
		if seen[l.Name] {
			return Config{}, fmt.Errorf("%s defines %q twice", path, l.Name)
		}
		seen[l.Name] = true
	}
	return cfg, nil
}
