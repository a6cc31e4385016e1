package errors

// ErrorCategory names the stage or subsystem an error came from.
type ErrorCategory string

// Caller-facing categories. Validation, auth and not-found map to 4xx
// responses; everything else is a server error.
const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryAuth       ErrorCategory = "auth"
	CategoryNotFound   ErrorCategory = "not_found"
)

// Pipeline stages.
const (
	CategoryGit       ErrorCategory = "git"
	CategoryTransform ErrorCategory = "transform"
	CategoryExecution ErrorCategory = "execution"
	CategoryRender    ErrorCategory = "render"
)

const (
	// CategoryCredential marks secret lookup failures. The resolver logs
	// them and falls through to the next source.
	CategoryCredential ErrorCategory = "credential"
	CategoryNetwork    ErrorCategory = "network"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryStorage    ErrorCategory = "storage"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity controls how loudly an error is reported.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
)

// RetryStrategy tells retry loops whether another attempt can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext holds key/value details attached to an error.
type ErrorContext map[string]any

// Set stores value under key, allocating the map on first use.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = ErrorContext{}
	}
	c[key] = value
	return c
}

// GetString returns the value under key when it is a string.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
