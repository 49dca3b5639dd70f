package config

// Destination types, log levels and defaults.
const (
	DestinationTypeCSV      = "csv"
	DestinationTypeXLSX     = "xlsx"
	DestinationTypeSQLite   = "sqlite"
	DestinationTypePostgres = "postgres"

	DefaultLogLevel       = "info"
	DefaultSourceDir      = "./docs"
	DefaultSourcePattern  = "*.csv"
	DefaultCSVDelimiter   = ";"
	DefaultSourceEncoding = "iso-8859-1"

	DefaultFilterPhrase = "Despesas com Eventos/Sinistros"

	DefaultOutputFile      = "consolidado_despesas.csv"
	DefaultOutputDelimiter = ","
	DefaultSheetName       = "Despesas"
	DefaultTable           = "despesas"
	DefaultBatchSize       = 1000

	// Bind-parameter ceilings of the relational stores.
	PostgresMaxParams = 65535
	SQLiteMaxParams   = 32766
)

// Default header tokens per column role, matched case-insensitively by containment.
var (
	DefaultDescriptionTokens = []string{"descricao", "tipo"}
	DefaultValueTokens       = []string{"vl_saldo_final", "valor"}
	DefaultDateTokens        = []string{"data"}
	DefaultProviderIDTokens  = []string{"reg_ans", "registro_ans", "cnpj"}
)

// ETLConfig is the root of the YAML configuration file.
type ETLConfig struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Source      SourceConfig      `yaml:"source"`
	Columns     ColumnsConfig     `yaml:"columns"`
	Filter      FilterConfig      `yaml:"filter"`
	Destination DestinationConfig `yaml:"destination"`
}

// LoggingConfig holds the verbosity level ("none", "error", "warn", "info", "debug").
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SourceConfig describes the directory of CSV exports handed over by the
// download collaborator and the dialect they are written in.
type SourceConfig struct {
	// Dir is the input directory. Environment variables are expanded.
	Dir string `yaml:"dir"`
	// Pattern is a filepath.Match glob applied case-insensitively to file names.
	Pattern string `yaml:"pattern,omitempty"`
	// Delimiter is the CSV field separator (single character, default ";").
	Delimiter string `yaml:"delimiter,omitempty"`
	// CommentChar optionally marks comment lines. Empty disables.
	CommentChar string `yaml:"commentChar,omitempty"`
	// Encoding is a WHATWG encoding label such as "iso-8859-1" or "utf-8".
	Encoding string `yaml:"encoding,omitempty"`
}

// ColumnsConfig lists the header tokens that identify each column role.
// Roles are resolved in the order description, value, date, providerId.
type ColumnsConfig struct {
	Description []string `yaml:"description,omitempty"`
	Value       []string `yaml:"value,omitempty"`
	Date        []string `yaml:"date,omitempty"`
	ProviderID  []string `yaml:"providerId,omitempty"`
}

// FilterConfig selects which rows become records.
type FilterConfig struct {
	// Phrase must be contained in the description cell.
	Phrase string `yaml:"phrase,omitempty"`
	// CaseInsensitive relaxes the phrase comparison. Off by default.
	CaseInsensitive bool `yaml:"caseInsensitive,omitempty"`
	// Expression is an optional govaluate expression evaluated against the
	// normalized fields providerId, quarter, year, value and file.
	// Example: "value > 0 && year >= 2023"
	Expression string `yaml:"expression,omitempty"`
}

// DestinationConfig selects and configures the sink.
type DestinationConfig struct {
	// Type is one of csv, xlsx, sqlite, postgres.
	Type string `yaml:"type"`
	// File is the flat output path (csv, xlsx) or the database file (sqlite).
	// Environment variables are expanded.
	File string `yaml:"file,omitempty"`
	// Delimiter of the CSV output (default ",").
	Delimiter string `yaml:"delimiter,omitempty"`
	// SheetName of the XLSX output (default "Despesas").
	SheetName string `yaml:"sheetName,omitempty"`
	// Table is the relational target table (default "despesas").
	Table string `yaml:"table,omitempty"`
	// BatchSize is the number of staged inserts per batched execution.
	BatchSize int `yaml:"batchSize,omitempty"`
	// ReplaceExisting deletes rows previously loaded from the same source file
	// inside that file's transaction. Relational sinks only.
	ReplaceExisting bool `yaml:"replaceExisting,omitempty"`
}

// IsRelational reports whether the destination is a database table.
func (d DestinationConfig) IsRelational() bool {
	return d.Type == DestinationTypeSQLite || d.Type == DestinationTypePostgres
}
