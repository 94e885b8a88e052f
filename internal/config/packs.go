package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DomainPack carries per-domain prompt and CLI hints keyed by role name
// ("Planner", "Coder", ...). Content is opaque to the engine; roles
// append it to their prompts verbatim.
type DomainPack struct {
	PromptEnhancements map[string]string `koanf:"prompt_enhancements"`
	CLIEnhancements    map[string]string `koanf:"cli_enhancements"`
}

// PackSource holds the live set of domain packs. Reads are cheap and
// concurrent; Replace swaps the whole set, which is how the watcher
// applies hot reloads.
type PackSource struct {
	mu    sync.RWMutex
	packs map[string]DomainPack
}

// NewPackSource creates a PackSource seeded with the given packs.
// A nil map is treated as empty.
func NewPackSource(packs map[string]DomainPack) *PackSource {
	if packs == nil {
		packs = map[string]DomainPack{}
	}
	return &PackSource{packs: packs}
}

// Pack returns the pack for a domain and whether it exists.
func (s *PackSource) Pack(domain string) (DomainPack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packs[domain]
	return p, ok
}

// PromptEnhancement returns the prompt hint for (domain, role), or ""
// when the domain or role has none. Missing packs degrade to no
// enhancement; they never fail.
func (s *PackSource) PromptEnhancement(domain, role string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packs[domain].PromptEnhancements[role]
}

// CLIEnhancement returns the CLI hint for (domain, role), or "".
func (s *PackSource) CLIEnhancement(domain, role string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packs[domain].CLIEnhancements[role]
}

// Domains returns the known domain names, sorted.
func (s *PackSource) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.packs))
	for name := range s.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps the entire pack set.
func (s *PackSource) Replace(packs map[string]DomainPack) {
	if packs == nil {
		packs = map[string]DomainPack{}
	}
	s.mu.Lock()
	s.packs = packs
	s.mu.Unlock()
}

// Set inserts or overwrites a single domain's pack.
func (s *PackSource) Set(domain string, pack DomainPack) {
	s.mu.Lock()
	s.packs[domain] = pack
	s.mu.Unlock()
}

// LoadPackDir reads every *.yaml/*.yml file in dir as one domain pack,
// keyed by the file's base name. Malformed files are skipped and
// reported in the returned name list of failures; a missing directory
// yields an empty map. Pack loading never hard-fails: a broken pack
// means "no enhancement", not a dead engine.
func LoadPackDir(dir string) (map[string]DomainPack, []string) {
	packs := map[string]DomainPack{}
	var failed []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		return packs, nil
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		pack, err := loadPackFile(filepath.Join(dir, name))
		if err != nil {
			failed = append(failed, name)
			continue
		}
		packs[strings.TrimSuffix(name, ext)] = pack
	}

	return packs, failed
}

// loadPackFile parses a single pack file.
func loadPackFile(path string) (DomainPack, error) {
	var pack DomainPack

	content, err := os.ReadFile(path)
	if err != nil {
		return pack, fmt.Errorf("failed to read pack file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return pack, fmt.Errorf("failed to parse pack file %s: %w", path, err)
	}
	if err := k.Unmarshal("", &pack); err != nil {
		return pack, fmt.Errorf("failed to unmarshal pack file %s: %w", path, err)
	}

	return pack, nil
}
