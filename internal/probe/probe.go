package probe

// Status represents the outcome of a probe execution.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Exit codes expected by Nagios-compatible monitoring hosts.
const (
	ExitOK       = 0
	ExitWarning  = 1
	ExitCritical = 2
	ExitUnknown  = 3
)

// ExitCode maps the status to the plugin exit code. Unrecognized values are unknown.
func (s Status) ExitCode() int {
	switch s {
	case StatusOK:
		return ExitOK
	case StatusWarning:
		return ExitWarning
	case StatusCritical:
		return ExitCritical
	default:
		return ExitUnknown
	}
}

// Label is the upper-case form used on the status line.
func (s Status) Label() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Result is the standard output format for probes. A Result is the verdict of
// one evaluation and is not modified after it is returned.
type Result struct {
	Status  Status         `json:"status"            yaml:"status"`
	Message string         `json:"message"           yaml:"message"`
	Metrics map[string]any `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Data    map[string]any `json:"data,omitempty"    yaml:"data,omitempty"`
}

// Unknown builds an unknown Result carrying err as data.
func Unknown(message string, err error) *Result {
	r := &Result{
		Status:  StatusUnknown,
		Message: message,
	}
	if err != nil {
		r.Data = map[string]any{"error": err.Error()}
	}
	return r
}

// Description is the self-description format for probes.
type Description struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     string    `json:"version"`
	Modes       []string  `json:"modes"` // -M values that select the probe
	Arguments   Arguments `json:"arguments"`
}

// Arguments describes required and optional probe arguments.
type Arguments struct {
	Required map[string]ArgumentSpec `json:"required,omitempty"`
	Optional map[string]ArgumentSpec `json:"optional,omitempty"`
}

// ArgumentSpec describes a single argument.
type ArgumentSpec struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}
