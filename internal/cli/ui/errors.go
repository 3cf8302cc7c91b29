package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message with suggestions and
// help commands
//
// Example output:
//
//	❌ TYPE NOT FOUND: Cannot find resource type 'Pst'.
//
//	   Did you mean: Post?
//
//	   → See all types: japi types
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	if opts.NoColor {
		red.DisableColor()
		yellow.DisableColor()
		cyan.DisableColor()
	}

	if opts.Context != "" {
		red.Fprintf(&b, "❌ %s: %s\n", strings.ToUpper(opts.Context), opts.Problem)
	} else {
		red.Fprintf(&b, "❌ %s\n", opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// TypeNotFoundError reports an unknown resource type with suggestions
// taken from the registered names
func TypeNotFoundError(name string, known []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "type not found",
		Problem:     fmt.Sprintf("Cannot find resource type '%s'.", name),
		Suggestions: FindSimilar(name, known),
		HelpCommands: []string{
			"See all types: japi types",
		},
		NoColor: noColor,
	})
}

// ConfigError reports an invalid configuration
func ConfigError(err error, noColor bool) string {
	return FormatError(ErrorOptions{
		Context: "configuration error",
		Problem: err.Error(),
		HelpCommands: []string{
			"View config: cat japi.yaml",
			"Get help: japi serve --help",
		},
		NoColor: noColor,
	})
}
