package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/japi/internal/web/document"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "japi",
		Short: "JSON:API server over pluggable storage backends",
		Long: color.CyanString(`japi - a JSON:API 1.0 engine

japi serves resource types declared in a schema registry as a JSON:API:
collections, resources, relationships and related resources, with
compound documents, sparse fieldsets, sorting, filtering and pagination.

Storage backends:
  • memory (default)
  • sqlite / postgres
  • redis`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default ./japi.yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewTypesCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the japi version, Git commit, build date, Go version and the JSON:API version served",
		Run: func(cmd *cobra.Command, args []string) {
			// Set GoVersion to actual runtime if not set at build time
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			if noColor(cmd) {
				titleColor.DisableColor()
			}
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "japi version: ")
			fmt.Fprintln(out, Version)

			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)

			titleColor.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)

			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, goVer)

			titleColor.Fprint(out, "JSON:API version: ")
			fmt.Fprintln(out, document.Version)
		},
	}
}

// Execute runs the root command
func Execute() error {
	if Version != "dev" {
		document.EngineVersion = Version
	}
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

func noColor(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("no-color")
	return v || color.NoColor
}

func configFile(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("config")
	return v
}
