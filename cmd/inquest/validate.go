package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/inquest/pkg/config"
)

// ValidateCmd validates a configuration file and optionally prints the
// expanded result with defaults applied and env vars resolved.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type: config.ConfigTypeFile,
		Path: c.Config,
	})
	if err != nil {
		return printValidationError(c.Format, c.Config, err)
	}

	if c.PrintConfig {
		fmt.Printf("# Expanded configuration from: %s\n\n", c.Config)
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return encoder.Close()
	}

	switch c.Format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(validationResult{Valid: true, File: c.Config})
	default:
		fmt.Printf("%s: valid\n", c.Config)
	}
	return nil
}

type validationResult struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

func printValidationError(format, file string, err error) error {
	switch format {
	case "json":
		_ = json.NewEncoder(os.Stdout).Encode(validationResult{Valid: false, File: file, Error: err.Error()})
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", file, err.Error())
	}
	return fmt.Errorf("config validation failed")
}
