// Package secrets detects credentials and tokens in document text with
// the Gitleaks ruleset, mapping findings to redaction entities.
package secrets

import (
	"fmt"
	"regexp"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// EntityType is the redaction type assigned to secret findings.
const EntityType = "SECRET"

// findingScore is the confidence attached to ruleset matches.
const findingScore = 0.95

// Detector scans pages with the Gitleaks default ruleset plus an
// optional allowlist. The Gitleaks API is synchronous, so the detector
// registers with the fan-out as a blocking engine.
type Detector struct {
	detector *detect.Detector
}

var _ fanout.BlockingDetector = (*Detector)(nil)

// NewDetector builds the Gitleaks detector once; the ruleset compiles
// hundreds of patterns and must not be rebuilt per request.
func NewDetector(allowlist *Allowlist) (*Detector, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building gitleaks detector: %w", err)
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Detector{detector: detector}, nil
}

// Name implements fanout.BlockingDetector.
func (d *Detector) Name() string { return "secrets" }

// DetectBlocking scans every page and reports secret spans.
func (d *Detector) DetectBlocking(req fanout.Request) (fanout.Detection, error) {
	if !typeRequested(req.Types) {
		return fanout.Detection{Mapping: redaction.EmptyMapping()}, nil
	}

	det := fanout.Detection{Mapping: redaction.EmptyMapping()}
	for _, page := range req.Document.Pages {
		entities := d.scanPage(page.Text)
		det.Entities = append(det.Entities, entities...)
		det.Mapping.Pages = append(det.Mapping.Pages, redaction.Page{
			Page:      page.Page,
			Sensitive: entities,
		})
	}
	return det, nil
}

func (d *Detector) scanPage(text string) []redaction.Entity {
	entities := []redaction.Entity{}
	lineOffsets := buildLineOffsets(text)

	for _, f := range d.detector.DetectString(text) {
		start, end, ok := findingSpan(text, lineOffsets, f.StartLine, f.Secret)
		if !ok {
			continue
		}
		entities = append(entities, redaction.Entity{
			Type:  EntityType,
			Start: start,
			End:   end,
			Score: findingScore,
		})
	}
	return entities
}

// buildLineOffsets returns the byte offset of each line start.
func buildLineOffsets(text string) []int {
	offsets := []int{0}
	for i, r := range text {
		if r == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// findingSpan locates the secret within its reported line. Gitleaks
// columns are rune-based against normalized input, so the byte span is
// recovered by searching the raw line for the secret itself.
func findingSpan(text string, lineOffsets []int, startLine int, secret string) (int, int, bool) {
	if secret == "" {
		return 0, 0, false
	}
	line := startLine
	if line < 0 || line >= len(lineOffsets) {
		line = 0
	}
	idx := strings.Index(text[lineOffsets[line]:], secret)
	if idx < 0 {
		idx = strings.Index(text, secret)
		if idx < 0 {
			return 0, 0, false
		}
		return idx, idx + len(secret), true
	}
	start := lineOffsets[line] + idx
	return start, start + len(secret), true
}

func typeRequested(types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.EqualFold(t, EntityType) {
			return true
		}
	}
	return false
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "redactd user/project allowlist",
	}

	// Patterns were validated at load; a failure here is a bug.
	for _, pattern := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
