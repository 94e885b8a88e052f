package governance

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidTOML indicates an allowlist file that could not be parsed.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex indicates an allowlist pattern that failed to compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds content patterns excluded from the credential scan.
// Generated code legitimately contains key-shaped placeholders in
// tests and documentation; the allowlist keeps those from blocking
// governance.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads a TOML allowlist file. A missing file is not an
// error; it yields an empty allowlist. Patterns are validated here so
// scanner construction cannot fail on them later.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}

	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.StopWords,
	}, nil
}

// Finding is one credential detected in generated code.
type Finding struct {
	RuleID      string
	Description string
	Line        int
	Secret      string
}

// Scanner runs the gitleaks default ruleset over generated code. The
// detector is built once at construction; Scan is safe for concurrent
// use because the merged config is never mutated afterwards.
type Scanner struct {
	detector *detect.Detector
}

// NewScanner builds a detector with the default gitleaks config and
// merges the given allowlist into it. A nil allowlist scans with the
// stock ruleset.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Scanner{detector: detector}, nil
}

// Scan returns the findings for one content blob.
func (s *Scanner) Scan(content string) []Finding {
	if content == "" {
		return nil
	}

	leaks := s.detector.DetectString(content)
	findings := make([]Finding, 0, len(leaks))
	for _, f := range leaks {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return findings
}

// applyAllowlist merges user patterns into the gitleaks config as one
// global allowlist entry.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if len(allowlist.Regexes) == 0 && len(allowlist.StopWords) == 0 {
		return
	}

	merged := &gitleaksConfig.Allowlist{
		Description: "crucible governance allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		// Patterns were validated in LoadAllowlist; a compile failure
		// here means they bypassed it.
		merged.Regexes = append(merged.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	merged.StopWords = append(merged.StopWords, allowlist.StopWords...)

	cfg.Allowlists = append(cfg.Allowlists, merged)
}
