package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"despesas-etl/internal/logging"

	"github.com/Knetic/govaluate"
	"golang.org/x/text/encoding/htmlindex"
)

// RecordColumns is the number of bound parameters each record contributes to
// a relational insert (cnpj, razao_social, trimestre, ano, valor_despesas, arquivo).
const RecordColumns = 6

var (
	knownLogLevels        = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownDestinationTypes = []string{DestinationTypeCSV, DestinationTypeXLSX, DestinationTypeSQLite, DestinationTypePostgres}

	// Optional schema prefix, then a plain identifier.
	tableNameRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\.)?[A-Za-z_][A-Za-z0-9_]*$`)

	invalidSheetChars = []string{":", "\\", "/", "?", "*", "[", "]"}
)

func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig checks the whole configuration and reports every problem at once.
func ValidateConfig(cfg *ETLConfig) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}

	allErrors = append(allErrors, validateSourceConfig("Config.Source", &cfg.Source)...)
	allErrors = append(allErrors, validateColumnsConfig("Config.Columns", &cfg.Columns)...)
	allErrors = append(allErrors, validateFilterConfig("Config.Filter", &cfg.Filter)...)
	allErrors = append(allErrors, validateDestinationConfig("Config.Destination", &cfg.Destination)...)

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

func validateSourceConfig(prefix string, cfg *SourceConfig) []string {
	var errs []string
	if strings.TrimSpace(cfg.Dir) == "" {
		errs = append(errs, fmt.Sprintf("- %s.Dir: is required", prefix))
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		errs = append(errs, fmt.Sprintf("- %s.Pattern: invalid glob '%s': %v", prefix, cfg.Pattern, err))
	}
	if err := validateSingleRuneString(cfg.Delimiter, prefix+".Delimiter", false); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSingleRuneString(cfg.CommentChar, prefix+".CommentChar", true); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.CommentChar != "" && cfg.CommentChar == cfg.Delimiter {
		errs = append(errs, fmt.Sprintf("- %s.CommentChar: must differ from the delimiter", prefix))
	}
	if _, err := htmlindex.Get(cfg.Encoding); err != nil {
		errs = append(errs, fmt.Sprintf("- %s.Encoding: unsupported encoding '%s'", prefix, cfg.Encoding))
	}
	return errs
}

func validateColumnsConfig(prefix string, cfg *ColumnsConfig) []string {
	var errs []string
	roles := []struct {
		name   string
		tokens []string
	}{
		{"Description", cfg.Description},
		{"Value", cfg.Value},
		{"Date", cfg.Date},
		{"ProviderID", cfg.ProviderID},
	}
	for _, role := range roles {
		if len(role.tokens) == 0 {
			errs = append(errs, fmt.Sprintf("- %s.%s: at least one token is required", prefix, role.name))
			continue
		}
		for i, tok := range role.tokens {
			if strings.TrimSpace(tok) == "" {
				errs = append(errs, fmt.Sprintf("- %s.%s[%d]: token cannot be empty", prefix, role.name, i))
			}
		}
	}
	return errs
}

func validateFilterConfig(prefix string, cfg *FilterConfig) []string {
	var errs []string
	if cfg.Phrase == "" {
		errs = append(errs, fmt.Sprintf("- %s.Phrase: is required", prefix))
	}
	if cfg.Expression != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Expression); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Expression: invalid expression syntax: %v", prefix, err))
		}
	}
	return errs
}

func validateDestinationConfig(prefix string, cfg *DestinationConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Type, knownDestinationTypes) {
		return append(errs, fmt.Sprintf("- %s.Type: invalid destination type '%s', must be one of %v", prefix, cfg.Type, knownDestinationTypes))
	}

	if cfg.Type != DestinationTypePostgres && strings.TrimSpace(cfg.File) == "" {
		errs = append(errs, fmt.Sprintf("- %s.File: is required for destination type '%s'", prefix, cfg.Type))
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("- %s.BatchSize: must be at least 1, got %d", prefix, cfg.BatchSize))
	}

	switch cfg.Type {
	case DestinationTypeCSV:
		if err := validateSingleRuneString(cfg.Delimiter, prefix+".Delimiter", false); err != nil {
			errs = append(errs, err.Error())
		}
	case DestinationTypeXLSX:
		if err := validateSheetName(cfg.SheetName, prefix+".SheetName"); err != nil {
			errs = append(errs, err.Error())
		}
	case DestinationTypeSQLite, DestinationTypePostgres:
		if !tableNameRe.MatchString(cfg.Table) {
			errs = append(errs, fmt.Sprintf("- %s.Table: invalid table name '%s'", prefix, cfg.Table))
		}
		limit := SQLiteMaxParams
		if cfg.Type == DestinationTypePostgres {
			limit = PostgresMaxParams
		}
		if cfg.BatchSize*RecordColumns > limit {
			errs = append(errs, fmt.Sprintf("- %s.BatchSize: %d records x %d columns exceeds the %s limit of %d bound parameters", prefix, cfg.BatchSize, RecordColumns, cfg.Type, limit))
		}
	}

	if cfg.ReplaceExisting && !cfg.IsRelational() {
		logging.Logf(logging.Warning, "Validation: %s.ReplaceExisting is ignored for destination type '%s'", prefix, cfg.Type)
	}
	return errs
}

func validateSingleRuneString(s, fieldName string, allowEmpty bool) error {
	if s == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("- %s: is required", fieldName)
	}
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("- %s: must be a single character, got '%s'", fieldName, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return fmt.Errorf("- %s: '%s' cannot be used as a CSV control character", fieldName, s)
	}
	return nil
}

func validateSheetName(sheetName, fieldName string) error {
	if sheetName == "" {
		return fmt.Errorf("- %s: is required", fieldName)
	}
	if utf8.RuneCountInString(sheetName) > 31 {
		return fmt.Errorf("- %s: '%s' exceeds 31 characters", fieldName, sheetName)
	}
	for _, c := range invalidSheetChars {
		if strings.Contains(sheetName, c) {
			return fmt.Errorf("- %s: '%s' contains invalid character '%s'", fieldName, sheetName, c)
		}
	}
	return nil
}
