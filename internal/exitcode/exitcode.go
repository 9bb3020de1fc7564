package exitcode

// Exit codes for nvim-llm commands
const (
	Success   = 0
	Error     = 1
	BadConfig = 2
	NotFound  = 3
	Cancelled = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

// Convenience constructors
func Config(err error) ExitError   { return ExitError{Code: BadConfig, Message: err.Error()} }
func Missing(msg string) ExitError { return ExitError{Code: NotFound, Message: msg} }
func Cancel() ExitError            { return ExitError{Code: Cancelled, Message: "cancelled"} }
