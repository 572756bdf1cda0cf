package engine

import "fmt"

// Verbosity controls how much the output sink prints. Messages carry the
// verbosity they were emitted at; the sink drops anything above the
// configured level.
type Verbosity int

const (
	// Silent prints nothing.
	Silent Verbosity = iota
	// Quiet prints only errors.
	Quiet
	// Normal prints errors and warnings.
	Normal
	// Loud prints every executed command line.
	Loud
	// Chatty additionally prints each key as its rule starts ("# key").
	Chatty
	// Diagnostic prints internal scheduler events.
	Diagnostic
)

var verbosityNames = map[Verbosity]string{
	Silent:     "silent",
	Quiet:      "quiet",
	Normal:     "normal",
	Loud:       "loud",
	Chatty:     "chatty",
	Diagnostic: "diagnostic",
}

// String returns the lowercase name used in config files.
func (v Verbosity) String() string {
	if s, ok := verbosityNames[v]; ok {
		return s
	}
	return fmt.Sprintf("verbosity(%d)", int(v))
}

// ParseVerbosity converts a config-file name to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	for v, name := range verbosityNames {
		if name == s {
			return v, nil
		}
	}
	return Normal, fmt.Errorf("unknown verbosity %q", s)
}

// LintMode selects which post-build invariant checks run.
type LintMode int

const (
	// LintNothing disables linting.
	LintNothing LintMode = iota
	// LintBasic checks working-directory stability and stored-value
	// stability after the build.
	LintBasic
	// LintFSATrace additionally validates tracked accesses at the end of
	// every rule.
	LintFSATrace
)

// String returns the lowercase name used in config files.
func (m LintMode) String() string {
	switch m {
	case LintBasic:
		return "basic"
	case LintFSATrace:
		return "fsatrace"
	default:
		return "none"
	}
}

// ParseLintMode converts a config-file name to a LintMode.
func ParseLintMode(s string) (LintMode, error) {
	switch s {
	case "", "none":
		return LintNothing, nil
	case "basic":
		return LintBasic, nil
	case "fsatrace":
		return LintFSATrace, nil
	}
	return LintNothing, fmt.Errorf("unknown lint mode %q", s)
}
