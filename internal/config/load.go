package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads, parses, defaults and validates the YAML configuration file.
func LoadConfig(filename string) (*ETLConfig, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var cfg ETLConfig
	if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	ApplyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset option with its default. It is exported so
// callers can build a config in code (tests, dry runs) and get the same shape
// LoadConfig produces.
func ApplyDefaults(cfg *ETLConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	src := &cfg.Source
	if src.Dir == "" {
		src.Dir = DefaultSourceDir
	}
	if src.Pattern == "" {
		src.Pattern = DefaultSourcePattern
	}
	if src.Delimiter == "" {
		src.Delimiter = DefaultCSVDelimiter
	}
	if src.Encoding == "" {
		src.Encoding = DefaultSourceEncoding
	}

	cols := &cfg.Columns
	if len(cols.Description) == 0 {
		cols.Description = append([]string(nil), DefaultDescriptionTokens...)
	}
	if len(cols.Value) == 0 {
		cols.Value = append([]string(nil), DefaultValueTokens...)
	}
	if len(cols.Date) == 0 {
		cols.Date = append([]string(nil), DefaultDateTokens...)
	}
	if len(cols.ProviderID) == 0 {
		cols.ProviderID = append([]string(nil), DefaultProviderIDTokens...)
	}

	if cfg.Filter.Phrase == "" {
		cfg.Filter.Phrase = DefaultFilterPhrase
	}

	dest := &cfg.Destination
	dest.Type = strings.ToLower(strings.TrimSpace(dest.Type))
	if dest.Type == "" {
		dest.Type = DestinationTypeCSV
	}
	if dest.File == "" {
		switch dest.Type {
		case DestinationTypeCSV:
			dest.File = filepath.Join(src.Dir, DefaultOutputFile)
		case DestinationTypeXLSX:
			dest.File = filepath.Join(src.Dir, strings.TrimSuffix(DefaultOutputFile, ".csv")+".xlsx")
		case DestinationTypeSQLite:
			dest.File = filepath.Join(src.Dir, "despesas.db")
		}
	}
	if dest.Type == DestinationTypeCSV && dest.Delimiter == "" {
		dest.Delimiter = DefaultOutputDelimiter
	}
	if dest.Type == DestinationTypeXLSX && dest.SheetName == "" {
		dest.SheetName = DefaultSheetName
	}
	if dest.IsRelational() && dest.Table == "" {
		dest.Table = DefaultTable
	}
	// Zero means unset; negative values are left for validation to reject.
	if dest.BatchSize == 0 {
		dest.BatchSize = DefaultBatchSize
	}
}
