package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/redactd/internal/config"
	"github.com/fyrsmithlabs/redactd/internal/detectors/pattern"
	"github.com/fyrsmithlabs/redactd/internal/detectors/secrets"
	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

var (
	scanTypes  []string
	scanDedupe bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Detect PII in a file or stdin without a server",
	Long: `Run the local detection engines (pattern and secrets) over a file or
stdin and print the findings as JSON.

Examples:
  # Scan a file
  redactd scan report.txt

  # Scan from stdin
  cat export.txt | redactd scan -

  # Only look for specific entity types
  redactd scan --types EMAIL,PHONE report.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanTypes, "types", nil, "entity types to detect (default: all)")
	scanCmd.Flags().BoolVar(&scanDedupe, "dedupe", true, "collapse duplicate findings across pages")
}

// scanResult is the JSON document printed by the scan command.
type scanResult struct {
	DocumentID string             `json:"document_id"`
	Entities   []redaction.Entity `json:"entities"`
	Mapping    redaction.Mapping  `json:"mapping"`
	Engines    []scanEngineStatus `json:"engines"`
}

type scanEngineStatus struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var (
		input io.Reader
		docID string
	)
	if len(args) == 0 || args[0] == "-" {
		input = os.Stdin
		docID = "stdin"
	} else {
		fh, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer fh.Close()
		input = fh
		docID = filepath.Base(args[0])
	}

	logger := logging.NewNop()

	f := fanout.New(
		fanout.WithEngineTimeout(cfg.Fanout.EngineTimeout.Duration()),
		fanout.WithLogger(logger),
	)

	rules := pattern.DefaultRules()
	if cfg.Detectors.Pattern.RulesFile != "" {
		rules, err = pattern.LoadRules(cfg.Detectors.Pattern.RulesFile)
		if err != nil {
			return fmt.Errorf("loading pattern rules: %w", err)
		}
	}
	patternDet, err := pattern.NewDetector(rules)
	if err != nil {
		return fmt.Errorf("pattern detector: %w", err)
	}
	f.Register(patternDet)

	allow, err := secrets.LoadAllowlists(
		cfg.Detectors.Secrets.ProjectPath,
		cfg.Detectors.Secrets.UserAllowlist,
	)
	if err != nil {
		return fmt.Errorf("loading secret allowlists: %w", err)
	}
	secretsDet, err := secrets.NewDetector(allow)
	if err != nil {
		return fmt.Errorf("secrets detector: %w", err)
	}
	f.RegisterBlocking(secretsDet)

	doc, err := extraction.PlainText{}.Extract(ctx, docID, input)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", docID, err)
	}

	outcome, err := f.Run(ctx, fanout.Request{Document: doc, Types: scanTypes})
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	mapping := outcome.Mapping
	if scanDedupe {
		mapping = redaction.DeduplicateMapping(mapping)
	}

	result := scanResult{
		DocumentID: docID,
		Entities:   outcome.Entities,
		Mapping:    mapping,
	}
	for _, e := range outcome.Engines {
		es := scanEngineStatus{Name: e.Name, Success: e.Success}
		if e.Err != nil {
			es.Error = e.Err.Error()
		}
		result.Engines = append(result.Engines, es)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
