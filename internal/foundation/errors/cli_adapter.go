package errors

import (
	"fmt"
	"log/slog"
)

// CLIErrorAdapter maps errors to exit codes and user-facing text for the CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor returns the process exit code for err.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	classified, ok := AsClassified(err)
	if !ok {
		return 1
	}
	switch classified.Category() {
	case CategoryValidation:
		return 2
	case CategoryAuth:
		return 5
	case CategoryConfig:
		return 7
	case CategoryGit, CategoryNetwork:
		return 8
	case CategoryTransform, CategoryExecution, CategoryRender:
		return 11
	case CategoryInternal:
		return 10
	default:
		return 1
	}
}

// FormatError renders err for stderr. Verbose output includes category and severity.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	if classified, ok := AsClassified(err); ok {
		if a.verbose {
			return classified.Error()
		}
		return fmt.Sprintf("Error: %s", classified.UserMessage())
	}
	return fmt.Sprintf("Error: %v", err)
}

// Log records the error at a level matching its severity.
func (a *CLIErrorAdapter) Log(err error) {
	if err == nil {
		return
	}
	if classified, ok := AsClassified(err); ok && classified.Severity() == SeverityWarning {
		a.logger.Warn(classified.Error())
		return
	}
	a.logger.Error(err.Error())
}
