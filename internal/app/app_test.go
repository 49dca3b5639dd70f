package app

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"despesas-etl/internal/config"
	etlio "despesas-etl/internal/io"
	"despesas-etl/internal/logging"
	"despesas-etl/internal/processor"
	"despesas-etl/internal/transform"
)

// --- Mock Implementations ---

type mockSink struct {
	mu         sync.Mutex
	begun      []string
	records    []transform.Record
	closeCalls int
	closeErr   error
}

func (m *mockSink) Begin(_ context.Context, f string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = append(m.begun, f)
	return nil
}
func (m *mockSink) Accumulate(_ context.Context, r transform.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}
func (m *mockSink) Flush(context.Context) (int, error) { return 0, nil }
func (m *mockSink) Commit(context.Context) error       { return nil }
func (m *mockSink) Abort(context.Context) error        { return nil }
func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.closeErr
}

type mockProcessor struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (m *mockProcessor) ProcessFile(_ context.Context, path string) (processor.FileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, filepath.Base(path))
	return processor.FileResult{File: filepath.Base(path), RecordsLoaded: 2}, m.err
}

// sinkCall records the arguments newSinkFunc was called with.
type sinkCall struct {
	calls      int
	cfg        config.DestinationConfig
	outputFile string
	dbConnStr  string
}

type testEnv struct {
	sink        *mockSink
	discardSink *mockSink
	proc        *mockProcessor
	sinkCall    *sinkCall
	sinkErr     error
	logBuf      *bytes.Buffer
}

// --- Test Helper Functions ---

func createTempYAML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yaml")
	if err != nil {
		t.Fatalf("Create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("Write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close temp file: %v", err)
	}
	return f.Name()
}

// inputDir creates a directory holding the named (empty) files.
func inputDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatalf("Write input file: %v", err)
		}
	}
	return dir
}

var setupMu sync.Mutex

func setupTestEnv(t *testing.T) *testEnv {
	setupMu.Lock()
	t.Helper()
	env := &testEnv{
		sink:        &mockSink{},
		discardSink: &mockSink{},
		proc:        &mockProcessor{},
		sinkCall:    &sinkCall{},
		logBuf:      &bytes.Buffer{},
	}

	origSinkFn := newSinkFunc
	origDiscardFn := newDiscardSinkFunc
	origProcFn := newProcessorFunc
	origDotEnvFn := loadDotEnvFunc
	origStatFn := osStatFunc
	origLogLevel := logging.GetLevel()

	newSinkFunc = func(_ context.Context, cfg config.DestinationConfig, outputFile, dbConnStr string) (etlio.Sink, error) {
		env.sinkCall.calls++
		env.sinkCall.cfg = cfg
		env.sinkCall.outputFile = outputFile
		env.sinkCall.dbConnStr = dbConnStr
		if env.sinkErr != nil {
			return nil, env.sinkErr
		}
		return env.sink, nil
	}
	newDiscardSinkFunc = func() etlio.Sink { return env.discardSink }
	newProcessorFunc = func(cfg *config.ETLConfig, sink etlio.Sink) (processor.Processor, error) {
		return env.proc, nil
	}
	loadDotEnvFunc = func() error { return os.ErrNotExist }
	logging.SetOutput(env.logBuf)

	t.Cleanup(func() {
		newSinkFunc = origSinkFn
		newDiscardSinkFunc = origDiscardFn
		newProcessorFunc = origProcFn
		loadDotEnvFunc = origDotEnvFn
		osStatFunc = origStatFn
		logging.SetOutput(os.Stderr)
		logging.SetLevel(origLogLevel)
		setupMu.Unlock()
	})
	return env
}

func configFor(t *testing.T, dir, destination string) string {
	t.Helper()
	return createTempYAML(t, fmt.Sprintf("logging: { level: debug }\nsource: { dir: %q }\ndestination: %s\n", dir, destination))
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	origStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	os.Stderr = w
	defer func() { os.Stderr = origStderr }()
	fn()
	w.Close()
	captured, _ := io.ReadAll(r)
	return string(captured)
}

// --- Test Functions ---

func TestAppRunner_Usage(t *testing.T) {
	var buf bytes.Buffer
	NewAppRunner().Usage(&buf)
	if got := buf.String(); got != usageText {
		t.Errorf("Usage mismatch:\ngot:\n%q\nwant:\n%q", got, usageText)
	}
}

func TestAppRunner_Run_Help(t *testing.T) {
	var err error
	stderr := captureStderr(t, func() { err = NewAppRunner().Run(context.Background(), []string{"-help"}) })
	if err != nil {
		t.Errorf("Run err: %v", err)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Errorf("No usage msg. Got:\n%s", stderr)
	}
}

func TestAppRunner_Run_UsageErrors(t *testing.T) {
	setupTestEnv(t)
	runner := NewAppRunner()
	for _, args := range [][]string{{"-invalid-flag"}, {"-config", "x.yaml", "extra"}} {
		if err := runner.Run(context.Background(), args); !errors.Is(err, ErrUsage) {
			t.Errorf("Run(%v): expected ErrUsage, got: %v", args, err)
		}
	}
}

func TestAppRunner_Run_ConfigNotFound(t *testing.T) {
	setupTestEnv(t)
	err := NewAppRunner().Run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "non-existent.yaml")})
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got: %v", err)
	}
}

func TestAppRunner_Run_ConfigStatError(t *testing.T) {
	setupTestEnv(t)
	osStatFunc = func(string) (os.FileInfo, error) { return nil, os.ErrPermission }
	err := NewAppRunner().Run(context.Background(), []string{"-config", "any.yaml"})
	if err == nil || !errors.Is(err, os.ErrPermission) {
		t.Errorf("Expected permission error, got: %v", err)
	}
}

func TestAppRunner_Run_InvalidConfigContent(t *testing.T) {
	setupTestEnv(t)
	runner := NewAppRunner()
	t.Run("InvalidYAML", func(t *testing.T) {
		cp := createTempYAML(t, "logging: { level:")
		err := runner.Run(context.Background(), []string{"-config", cp})
		if err == nil || !strings.Contains(err.Error(), "YAML") {
			t.Errorf("Expected YAML err, got: %v", err)
		}
	})
	t.Run("InvalidSchema", func(t *testing.T) {
		cp := createTempYAML(t, "destination: { type: json }")
		err := runner.Run(context.Background(), []string{"-config", cp})
		if err == nil || !strings.Contains(err.Error(), "validation failed") || !strings.Contains(err.Error(), "Destination.Type") {
			t.Errorf("Expected validation err for Destination.Type, got: %v", err)
		}
	})
}

func TestAppRunner_Run_HappyPath(t *testing.T) {
	env := setupTestEnv(t)
	dir := inputDir(t, "2T2023.csv", "1T2023.csv", "notas.txt", "consolidado_despesas.csv")
	cp := configFor(t, dir, "{ type: csv }")

	if err := NewAppRunner().Run(context.Background(), []string{"-config", cp}); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if got, want := strings.Join(env.proc.files, ","), "1T2023.csv,2T2023.csv"; got != want {
		t.Errorf("Processed files = %q, want %q (output artifact excluded)", got, want)
	}
	if env.sinkCall.calls != 1 || env.sink.closeCalls != 1 {
		t.Errorf("Sink calls: created %d, closed %d; want 1, 1", env.sinkCall.calls, env.sink.closeCalls)
	}
	if want := filepath.Join(dir, config.DefaultOutputFile); env.sinkCall.outputFile != want {
		t.Errorf("Output file = %q, want %q", env.sinkCall.outputFile, want)
	}
	if !strings.Contains(env.logBuf.String(), "2 files processed, 0 skipped, 4 records loaded") {
		t.Errorf("Summary not logged. Log:\n%s", env.logBuf.String())
	}
}

func TestAppRunner_Run_DryRun(t *testing.T) {
	env := setupTestEnv(t)
	dir := inputDir(t, "a.csv")
	cp := configFor(t, dir, "{ type: postgres }")

	if err := NewAppRunner().Run(context.Background(), []string{"-config", cp, "-dry-run"}); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if env.sinkCall.calls != 0 {
		t.Errorf("Dry run created a real sink")
	}
	if env.discardSink.closeCalls != 1 {
		t.Errorf("Discard sink close calls = %d, want 1", env.discardSink.closeCalls)
	}
	if !strings.Contains(env.logBuf.String(), "records would be loaded") {
		t.Errorf("Dry run summary not logged. Log:\n%s", env.logBuf.String())
	}
}

func TestAppRunner_Run_FlagOverrides(t *testing.T) {
	env := setupTestEnv(t)
	orig := inputDir(t, "orig.csv")
	override := inputDir(t, "override.csv")
	cp := createTempYAML(t, fmt.Sprintf("source: { dir: %q }\ndestination: { type: xlsx, file: orig.xlsx }\n", orig))

	args := []string{"-config", cp, "-input", override, "-output", "out_override.xlsx", "-loglevel", "debug"}
	if err := NewAppRunner().Run(context.Background(), args); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(env.proc.files) != 1 || env.proc.files[0] != "override.csv" {
		t.Errorf("Input override ignored, processed %v", env.proc.files)
	}
	if env.sinkCall.outputFile != "out_override.xlsx" {
		t.Errorf("Output mismatch: got %q", env.sinkCall.outputFile)
	}
	if logging.GetLevel() != logging.Debug {
		t.Error("Loglevel mismatch")
	}
}

func TestAppRunner_Run_EnvVarExpansion(t *testing.T) {
	env := setupTestEnv(t)
	dir := inputDir(t, "a.csv")
	t.Setenv("DESPESAS_IN", dir)
	t.Setenv("DESPESAS_OUT", "/tmp/saida")
	cp := createTempYAML(t, `
source: { dir: "$DESPESAS_IN" }
destination: { type: csv, file: "${DESPESAS_OUT}/c.csv" }`)

	if err := NewAppRunner().Run(context.Background(), []string{"-config", cp}); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(env.proc.files) != 1 {
		t.Errorf("Input dir not expanded, processed %v", env.proc.files)
	}
	if env.sinkCall.outputFile != "/tmp/saida/c.csv" {
		t.Errorf("Output path mismatch: got %q", env.sinkCall.outputFile)
	}
}

func TestAppRunner_Run_PostgresConnection(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		env := setupTestEnv(t)
		t.Setenv(dbCredentialsEnv, "")
		cp := configFor(t, inputDir(t), "{ type: postgres }")
		err := NewAppRunner().Run(context.Background(), []string{"-config", cp})
		if !errors.Is(err, ErrMissingArgs) {
			t.Errorf("Expected ErrMissingArgs, got: %v", err)
		}
		if env.sinkCall.calls != 0 {
			t.Error("Sink created without connection string")
		}
	})

	t.Run("from environment", func(t *testing.T) {
		env := setupTestEnv(t)
		t.Setenv("PGPASS_TEST", "segredo")
		t.Setenv(dbCredentialsEnv, "postgres://etl:$PGPASS_TEST@db/ans")
		cp := configFor(t, inputDir(t), "{ type: postgres }")
		if err := NewAppRunner().Run(context.Background(), []string{"-config", cp}); err != nil {
			t.Fatalf("Run err: %v", err)
		}
		if env.sinkCall.dbConnStr != "postgres://etl:segredo@db/ans" {
			t.Errorf("DSN mismatch: %q", env.sinkCall.dbConnStr)
		}
		if strings.Contains(env.logBuf.String(), "segredo") {
			t.Errorf("Password leaked into log:\n%s", env.logBuf.String())
		}
	})

	t.Run("flag wins", func(t *testing.T) {
		env := setupTestEnv(t)
		t.Setenv(dbCredentialsEnv, "postgres://env@db/ans")
		cp := configFor(t, inputDir(t), "{ type: postgres }")
		if err := NewAppRunner().Run(context.Background(), []string{"-config", cp, "-db", "postgres://flag@db/ans"}); err != nil {
			t.Fatalf("Run err: %v", err)
		}
		if env.sinkCall.dbConnStr != "postgres://flag@db/ans" {
			t.Errorf("DSN mismatch: %q", env.sinkCall.dbConnStr)
		}
	})
}

func TestAppRunner_Run_DotEnvFailureIsNotFatal(t *testing.T) {
	env := setupTestEnv(t)
	loadDotEnvFunc = func() error { return errors.New("unexpected character") }
	cp := configFor(t, inputDir(t, "a.csv"), "{ type: csv }")
	if err := NewAppRunner().Run(context.Background(), []string{"-config", cp}); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if !strings.Contains(env.logBuf.String(), "Failed to load .env file") {
		t.Errorf("Expected .env warning. Log:\n%s", env.logBuf.String())
	}
}

func TestAppRunner_Run_ComponentErrors(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(*testEnv)
		dir     func(*testing.T) string
		errFrag string
		errIs   error
	}{
		{
			name:    "SinkCreateErr",
			setup:   func(e *testEnv) { e.sinkErr = fmt.Errorf("%w: connection refused", etlio.ErrSink) },
			errFrag: "failed to create sink",
			errIs:   etlio.ErrSink,
		},
		{
			name:    "SinkCloseErr",
			setup:   func(e *testEnv) { e.sink.closeErr = errors.New("mock close fail") },
			errFrag: "failed to close sink: mock close fail",
		},
		{
			name:    "RunLevelSinkErr",
			setup:   func(e *testEnv) { e.proc.err = etlio.ErrSink },
			errFrag: "incomplete",
			errIs:   etlio.ErrSink,
		},
		{
			name:    "MissingInputDir",
			dir:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") },
			errFrag: "incomplete",
			errIs:   processor.ErrInputDir,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestEnv(t)
			if tc.setup != nil {
				tc.setup(env)
			}
			dir := inputDir(t, "a.csv")
			if tc.dir != nil {
				dir = tc.dir(t)
			}
			cp := configFor(t, dir, fmt.Sprintf("{ type: csv, file: %q }", filepath.Join(t.TempDir(), "out.csv")))
			err := NewAppRunner().Run(context.Background(), []string{"-config", cp})
			if err == nil {
				t.Fatalf("Expected err %q, got nil", tc.errFrag)
			}
			if !strings.Contains(err.Error(), tc.errFrag) {
				t.Errorf("Err mismatch: got %q, want %q", err.Error(), tc.errFrag)
			}
			if tc.errIs != nil && !errors.Is(err, tc.errIs) {
				t.Errorf("Expected errors.Is(%v), got %v", tc.errIs, err)
			}
			if env.sinkErr == nil && env.sink.closeCalls != 1 {
				t.Errorf("Sink close calls = %d, want 1", env.sink.closeCalls)
			}
		})
	}
}

// TestAppRunner_Run_EndToEnd uses the real sink and processor factories.
func TestAppRunner_Run_EndToEnd(t *testing.T) {
	setupMu.Lock()
	defer setupMu.Unlock()
	origLevel := logging.GetLevel()
	logging.SetOutput(io.Discard)
	t.Cleanup(func() { logging.SetOutput(os.Stderr); logging.SetLevel(origLevel) })

	dir := t.TempDir()
	content := "REG_ANS;DESCRICAO;DATA;VL_SALDO_FINAL\n123456;Despesas com Eventos/Sinistros;2022-07-10;5000,00\n"
	if err := os.WriteFile(filepath.Join(dir, "1T2022.csv"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cp := configFor(t, dir, "{ type: csv }")

	for run := 0; run < 2; run++ {
		if err := NewAppRunner().Run(context.Background(), []string{"-config", cp}); err != nil {
			t.Fatalf("Run %d err: %v", run, err)
		}
	}
	got, err := os.ReadFile(filepath.Join(dir, config.DefaultOutputFile))
	if err != nil {
		t.Fatal(err)
	}
	want := "CNPJ,RazaoSocial,Trimestre,Ano,ValorDespesas\n123456,,3,2022,5000.00\n"
	if string(got) != want {
		t.Errorf("Output mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func Test_isFlagSet(t *testing.T) {
	testCases := []struct {
		n, f string
		a    []string
		w    bool
	}{
		{"set", "config", []string{"-config=a"}, true},
		{"not", "config", []string{"-input=b"}, false},
		{"bool set", "dry-run", []string{"-dry-run"}, true},
		{"bool not", "dry-run", []string{"-config=a"}, false},
		{"no", "config", []string{}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.n, func(t *testing.T) {
			fs := flag.NewFlagSet("t", flag.ContinueOnError)
			fs.String("config", "", "")
			fs.String("input", "", "")
			fs.Bool("dry-run", false, "")
			if err := fs.Parse(tc.a); err != nil {
				t.Fatal(err)
			}
			if g := isFlagSet(fs, tc.f); g != tc.w {
				t.Errorf("%s(%q,%v)=%v, want %v", tc.n, tc.f, tc.a, g, tc.w)
			}
		})
	}
}
