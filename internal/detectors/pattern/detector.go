// Package pattern detects PII spans with a configurable regex ruleset.
// Rules come from the built-in set or a TOML file, which can be hot
// reloaded while the service runs.
package pattern

import (
	"context"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// Detector scans pages against the compiled ruleset.
type Detector struct {
	mu     sync.RWMutex
	rules  []*compiledRule
	logger *logging.Logger
}

var _ fanout.ContextDetector = (*Detector)(nil)

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector compiles rules into a detector. Nil rules selects the
// built-in set.
func NewDetector(rules []Rule, opts ...Option) (*Detector, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	d := &Detector{rules: compiled, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name implements fanout.ContextDetector.
func (d *Detector) Name() string { return "pattern" }

// Reload swaps in a new ruleset atomically. In-flight detections keep
// the ruleset they started with.
func (d *Detector) Reload(rules []Rule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.rules = compiled
	d.mu.Unlock()
	return nil
}

// RuleCount returns the number of active rules.
func (d *Detector) RuleCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rules)
}

// Detect scans every page, honoring cancellation between pages.
func (d *Detector) Detect(ctx context.Context, req fanout.Request) (fanout.Detection, error) {
	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()

	wanted := typeFilter(req.Types)

	det := fanout.Detection{Mapping: redaction.EmptyMapping()}
	for _, page := range req.Document.Pages {
		if err := ctx.Err(); err != nil {
			return fanout.Detection{}, err
		}
		entities := scanPage(rules, page.Text, wanted)
		det.Entities = append(det.Entities, entities...)
		det.Mapping.Pages = append(det.Mapping.Pages, redaction.Page{
			Page:      page.Page,
			Sensitive: entities,
		})
	}
	return det, nil
}

func scanPage(rules []*compiledRule, text string, wanted map[string]bool) []redaction.Entity {
	entities := []redaction.Entity{}
	lower := strings.ToLower(text)

	for _, rule := range rules {
		if wanted != nil && !wanted[rule.EntityType] {
			continue
		}
		if !keywordsPresent(lower, rule.keywords) {
			continue
		}
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			entities = append(entities, redaction.Entity{
				Type:  rule.EntityType,
				Start: loc[0],
				End:   loc[1],
				Score: rule.score,
			})
		}
	}
	return entities
}

func keywordsPresent(lowerText string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

func typeFilter(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[strings.ToUpper(t)] = true
	}
	return wanted
}
