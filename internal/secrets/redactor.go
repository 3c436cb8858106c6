package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Redactor detects secrets with the gitleaks default rule set and replaces
// them with [REDACTED:rule-id] markers.
type Redactor struct {
	cfg    gitleaksConfig.Config
	logger *logging.Logger
}

// NewRedactor parses the gitleaks rules once and merges allowlist into them.
func NewRedactor(allowlist *Allowlist, logger *logging.Logger) (*Redactor, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	cfg := d.Config
	if allowlist != nil && (len(allowlist.Regexes) > 0 || len(allowlist.StopWords) > 0) {
		extra := &gitleaksConfig.Allowlist{Description: "pcrsearch allowlist"}
		for _, pattern := range allowlist.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			extra.Regexes = append(extra.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		extra.StopWords = append(extra.StopWords, allowlist.StopWords...)
		cfg.Allowlists = append(cfg.Allowlists, extra)
	}
	return &Redactor{cfg: cfg, logger: logger}, nil
}

// Detect returns the secrets found in content.
func (r *Redactor) Detect(content string) []Finding {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	// Detectors accumulate findings, so each scan gets a fresh one.
	found := detect.NewDetector(r.cfg).DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	return out
}

// Redact returns content with every detected secret replaced.
func (r *Redactor) Redact(ctx context.Context, content string) string {
	findings := r.Detect(content)
	if len(findings) == 0 {
		return content
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Match) > len(findings[j].Match)
	})
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Match, Marker(f.RuleID))
		rules = append(rules, f.RuleID)
	}
	r.logger.Warn(ctx, "redacted secrets from chat input",
		zap.Int("count", len(findings)),
		zap.Strings("rules", rules),
	)
	return content
}

// Marker is the replacement text for a secret matched by ruleID.
func Marker(ruleID string) string {
	return "[REDACTED:" + ruleID + "]"
}
