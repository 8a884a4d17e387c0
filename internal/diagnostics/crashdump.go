package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// PanicDump captures a panic raised inside a diagnoser.
type PanicDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	Diagnoser  string `json:"diagnoser"`
	Operation  string `json:"operation"`
	CaseID     string `json:"case_id,omitempty"`
	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	Memory MemSnapshot `json:"memory"`
}

// CrashDumpWriter persists panic dumps, keeping at most maxFiles.
type CrashDumpWriter struct {
	dir          string
	maxFiles     int
	includeStack bool
	logger       *slog.Logger

	mu sync.Mutex
}

// NewCrashDumpWriter creates a crash dump writer.
func NewCrashDumpWriter(dir string, maxFiles int, includeStack bool, logger *slog.Logger) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = ".benchdiag/crashdumps"
	}
	return &CrashDumpWriter{
		dir:          dir,
		maxFiles:     maxFiles,
		includeStack: includeStack,
		logger:       logger,
	}
}

// Write generates and writes a dump for panicValue.
func (w *CrashDumpWriter) Write(scope Scope, panicValue interface{}, stack []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := PanicDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		Diagnoser:  scope.Diagnoser,
		Operation:  scope.Operation,
		CaseID:     scope.CaseID,
		PanicValue: fmt.Sprintf("%v", panicValue),
		Memory:     TakeMemSnapshot(),
	}
	if w.includeStack {
		dump.StackTrace = string(stack)
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating crash dump dir: %w", err)
	}

	filename := fmt.Sprintf("panic-%s-%s.json",
		sanitizeName(scope.Diagnoser), dump.Timestamp.Format("2006-01-02T15-04-05.000"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	_ = w.cleanupOldDumps()
	return path, nil
}

func (w *CrashDumpWriter) cleanupOldDumps() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	var dumps []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "panic-") && strings.HasSuffix(e.Name(), ".json") {
			dumps = append(dumps, e)
		}
	}

	// Oldest first
	sort.Slice(dumps, func(i, j int) bool {
		infoI, errI := dumps[i].Info()
		infoJ, errJ := dumps[j].Info()
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().Before(infoJ.ModTime())
	})

	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].Name())
		if err := os.Remove(path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
	return nil
}

// Scope names the diagnoser call being guarded.
type Scope struct {
	Diagnoser string
	Operation string
	CaseID    string
}

// Guard runs fn at the diagnoser boundary. A panic inside fn is logged,
// dumped when dumps is non-nil, and returned as an error so it never unwinds
// into the run loop. Contract violations are harness misuse and re-panic.
func Guard(logger *slog.Logger, dumps *CrashDumpWriter, scope Scope, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if core.IsContractViolation(r) {
			panic(r)
		}
		stack := debug.Stack()
		path := ""
		if dumps != nil {
			p, dumpErr := dumps.Write(scope, r, stack)
			if dumpErr != nil && logger != nil {
				logger.Error("failed to write crash dump", "error", dumpErr, "panic", r)
			}
			path = p
		}
		if logger != nil {
			logger.Error("diagnoser panicked",
				"diagnoser", scope.Diagnoser,
				"operation", scope.Operation,
				"case_id", scope.CaseID,
				"panic", r,
				"dump", path,
			)
		}
		domErr := core.ErrInternal(fmt.Sprintf("%s %s panicked: %v", scope.Diagnoser, scope.Operation, r))
		domErr.Code = core.CodeDiagnoserPanic
		err = domErr.WithDetail("dump", path)
	}()
	return fn()
}

// LoadLatestCrashDump loads the most recent panic dump from dir.
func LoadLatestCrashDump(dir string) (*PanicDump, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump dir: %w", err)
	}

	var newest os.DirEntry
	var newestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "panic-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == nil || info.ModTime().After(newestTime) {
			newest = e
			newestTime = info.ModTime()
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no crash dumps found")
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening crash dump dir: %w", err)
	}
	defer func() { _ = root.Close() }()

	data, err := root.ReadFile(newest.Name())
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}

	var dump PanicDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}

func sanitizeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
