// Package skills indexes a directory tree of SKILL.md documents. Each
// subdirectory is a skill; the front-matter block is indexed at startup and
// the body is loaded on demand through the get_skill tool.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const skillFileName = "SKILL.md"

// Meta is the front-matter block of a skill document.
type Meta struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed-tools,omitempty"`
	License      string   `yaml:"license,omitempty"`
}

type skillEntry struct {
	meta Meta
	path string
}

// Loader indexes and serves skills from a directory tree.
type Loader struct {
	dir    string
	mu     sync.RWMutex
	skills map[string]skillEntry
}

// NewLoader indexes the skill catalog under dir. A missing directory yields
// an empty catalog, not an error.
func NewLoader(dir string) (*Loader, error) {
	l := &Loader{dir: dir, skills: make(map[string]skillEntry)}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-indexes the catalog from disk.
func (l *Loader) Reload() error {
	skills := make(map[string]skillEntry)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.mu.Lock()
			l.skills = skills
			l.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read skill catalog %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), skillFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		meta, _, err := parseFrontMatter(string(data))
		if err != nil {
			slog.Warn("Skipping skill with invalid front matter", "path", path, "error", err)
			continue
		}
		if meta.Name == "" {
			meta.Name = entry.Name()
		}

		skills[meta.Name] = skillEntry{meta: meta, path: path}
	}

	l.mu.Lock()
	l.skills = skills
	l.mu.Unlock()

	return nil
}

// List returns the indexed skill metadata sorted by name.
func (l *Loader) List() []Meta {
	l.mu.RLock()
	defer l.mu.RUnlock()

	metas := make([]Meta, 0, len(l.skills))
	for _, entry := range l.skills {
		metas = append(metas, entry.meta)
	}
	sortMetas(metas)
	return metas
}

// Load returns the full document body (front matter stripped) of a skill.
func (l *Loader) Load(name string) (string, error) {
	l.mu.RLock()
	entry, exists := l.skills[name]
	l.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("skill '%s' not found", name)
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		return "", fmt.Errorf("failed to load skill '%s': %w", name, err)
	}

	_, body, err := parseFrontMatter(string(data))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// Watch re-indexes the catalog whenever the tree changes, until ctx ends.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create skill watcher: %w", err)
	}

	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch skill catalog %s: %w", l.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := l.Reload(); err != nil {
						slog.Warn("Skill catalog reload failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Skill watcher error", "error", err)
			}
		}
	}()

	return nil
}

// parseFrontMatter splits a markdown document into its YAML front matter and
// body. Documents without front matter yield a zero Meta.
func parseFrontMatter(content string) (Meta, string, error) {
	var meta Meta

	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, "---") {
		return meta, content, nil
	}

	rest := strings.TrimPrefix(trimmed, "---")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return meta, content, fmt.Errorf("unterminated front matter block")
	}

	block := rest[:idx]
	body := rest[idx+len("\n---"):]

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return meta, content, fmt.Errorf("invalid front matter: %w", err)
	}

	return meta, body, nil
}

func sortMetas(metas []Meta) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].Name < metas[j-1].Name; j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}
