package probe

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write.
const (
	FormatNagios = "nagios"
	FormatJSON   = "json"
	FormatYAML   = "yaml"
)

// Formats lists the supported output formats.
var Formats = []string{FormatNagios, FormatJSON, FormatYAML}

// Write renders the result to w in the given format.
func Write(w io.Writer, result *Result, format string, perfdata bool) error {
	switch format {
	case "", FormatNagios:
		_, err := io.WriteString(w, StatusLine(result, perfdata)+"\n")
		return err
	case FormatJSON:
		return json.NewEncoder(w).Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(result)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// StatusLine formats the result as a plugin status line: "LABEL - message".
// Perfdata, when requested, is appended to the first line of the message.
func StatusLine(result *Result, perfdata bool) string {
	line := result.Status.Label() + " - " + result.Message
	if !perfdata {
		return line
	}
	perf := Perfdata(result.Metrics)
	if perf == "" {
		return line
	}
	first, rest, found := strings.Cut(line, "\n")
	if !found {
		return first + " | " + perf
	}
	return first + " | " + perf + "\n" + rest
}

// Perfdata renders the numeric metrics as "key=value" pairs in key order.
func Perfdata(metrics map[string]any) string {
	keys := make([]string, 0, len(metrics))
	for k, v := range metrics {
		switch v.(type) {
		case int, int64, uint64, float64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, metrics[k]))
	}
	return strings.Join(parts, " ")
}
