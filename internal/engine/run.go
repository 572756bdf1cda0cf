package engine

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/keelbuild/keel/internal/key"
	"github.com/keelbuild/keel/internal/pool"
	"github.com/keelbuild/keel/internal/report"
	"github.com/keelbuild/keel/internal/store"
)

// Run executes a build: open the database, run every top-level action
// over the worker pool, then perform the post-build steps (integrity
// assertion, lint checks, reports, live listing, finalisers).
//
// Run returns nil on success. On failure it returns the first structured
// error; in staunch mode later failures are only logged.
func Run(opts Options, rules *Rules) error {
	start := time.Now()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	}

	output := makeOutput(opts)
	logger := makeLogger(opts)
	timer := newTimings()
	timer.phase("Initialise")

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	if opts.Timings {
		cleanups = append(cleanups, func() {
			timer.dump(func(s string) { output(Normal, s) })
		})
	}

	var lintCwd string
	if opts.Lint != LintNothing {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("lint: cannot read working directory: %w", err)
		}
		lintCwd = cwd
	}

	db, err := store.Open(store.Options{
		Path:      opts.DatabasePath,
		SessionID: sessionID,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	cleanups = append(cleanups, func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	})

	g := &Global{
		db:      db,
		start:   start,
		rules:   rules.rules,
		opts:    opts,
		output:  output,
		logger:  logger,
		lintCwd: lintCwd,
	}
	g.ops = store.BuildOps{Stored: g.runStored, Equal: g.runEqual, Exec: g.runKey}

	var errMu sync.Mutex
	var firstErr *BuildError
	recordErr := func(be *BuildError) bool {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = be
			return true
		}
		return false
	}
	g.raiseError = func(be *BuildError) {
		recordErr(be)
		if !opts.Staunch {
			g.pool.Terminate(be)
		}
	}

	stopProgress := startProgress(g, func() string {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			return ""
		}
		return firstErr.Target
	})
	cleanups = append(cleanups, stopProgress)

	timer.phase("Running rules")
	_ = pool.Run(opts.Deterministic, opts.Threads, func(p *pool.Pool) {
		g.pool = p
		for _, act := range rules.actions {
			p.Spawn(func() {
				if p.Terminated() {
					return
				}
				a := &Action{global: g, local: newLocal(key.NewStack(), opts.Verbosity)}
				if err := runTopLevel(a, act); err != nil {
					be := g.wrapError(func() key.Stack { return a.local.stack }, err)
					if be.Target == "Unknown call stack" {
						be.Target = "Top-level action/want"
					}
					g.raiseError(be)
				}
			})
		}
	})
	stopProgress()

	errMu.Lock()
	failed := firstErr
	errMu.Unlock()
	if failed != nil {
		return failed
	}

	timer.phase("Finalise")
	if err := db.AssertFinished(); err != nil {
		return err
	}

	if len(rules.actions) == 0 {
		output(Normal, "Warning: no actions specified, nothing to do")
	}

	if opts.Lint != LintNothing {
		g.absentMu.Lock()
		absent := g.absent
		g.absentMu.Unlock()
		if err := db.CheckValid(g.runStored, g.runEqual, absent); err != nil {
			return err
		}
		output(Loud, "Lint checking succeeded")
	}

	if len(opts.Reports) > 0 {
		entries := db.ToReport()
		for _, path := range opts.Reports {
			if path != "-" {
				output(Normal, "Writing report to "+path)
			}
			if err := report.Write(path, sessionID, entries); err != nil {
				return err
			}
		}
	}

	if len(opts.LiveFiles) > 0 {
		live := db.ListLive()
		lines := make([]string, len(live))
		for i, k := range live {
			lines[i] = key.Show(k)
		}
		body := strings.Join(lines, "\n") + "\n"
		for _, path := range opts.LiveFiles {
			if path == "-" {
				fmt.Print(body)
				continue
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return fmt.Errorf("writing live list %s: %w", path, err)
			}
		}
	}

	g.afterMu.Lock()
	after := g.after
	g.after = nil
	g.afterMu.Unlock()
	for i := len(after) - 1; i >= 0; i-- {
		runFinaliser(after[i], logger)
	}

	return nil
}

// runTopLevel executes one top-level action with panic recovery.
func runTopLevel(a *Action, act func(*Action) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic in action: %w", e)
				return
			}
			err = fmt.Errorf("panic in action: %v", r)
		}
	}()
	return act(a)
}

// runFinaliser runs one runAfter finaliser; a panic is logged and the
// remaining finalisers still run.
func runFinaliser(f func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in runAfter finaliser", "panic", r)
		}
	}()
	f()
}

// RunAfter registers a finaliser executed once the build has finished
// successfully, in reverse registration order.
func (a *Action) RunAfter(f func()) {
	a.global.runAfter(f)
}

// makeOutput builds the serialized output sink: the user's callback when
// given, otherwise stderr with abbreviations applied and diagnostic
// lines dimmed on terminals.
func makeOutput(opts Options) func(Verbosity, string) {
	abbrevs := append([]Abbreviation(nil), opts.Abbreviations...)
	sort.SliceStable(abbrevs, func(i, j int) bool {
		return len(abbrevs[i].From) > len(abbrevs[j].From)
	})
	abbreviate := func(msg string) string {
		for _, ab := range abbrevs {
			msg = strings.ReplaceAll(msg, ab.From, ab.To)
		}
		return msg
	}

	var mu sync.Mutex
	if user := opts.Output; user != nil {
		return func(v Verbosity, msg string) {
			if v > opts.Verbosity {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			user(v, abbreviate(msg))
		}
	}

	tty := isatty.IsTerminal(os.Stderr.Fd())
	var w io.Writer = os.Stderr
	var buffered *bufio.Writer
	if opts.LineBuffering {
		buffered = bufio.NewWriter(os.Stderr)
		w = buffered
	}
	return func(v Verbosity, msg string) {
		if v > opts.Verbosity {
			return
		}
		msg = abbreviate(msg)
		mu.Lock()
		defer mu.Unlock()
		if tty && v >= Diagnostic {
			fmt.Fprintf(w, "\033[2m%s\033[0m\n", msg)
		} else {
			fmt.Fprintln(w, msg)
		}
		if buffered != nil {
			buffered.Flush()
		}
	}
}

// makeLogger builds the diagnostic slog logger; Diagnostic verbosity
// enables debug-level records.
func makeLogger(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbosity >= Diagnostic {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
