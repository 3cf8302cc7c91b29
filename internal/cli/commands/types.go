package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/japi/internal/blog"
	"github.com/conduit-lang/japi/internal/cli/ui"
	"github.com/conduit-lang/japi/internal/orm/schema"
)

// NewTypesCommand creates the types command
func NewTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types [type]",
		Short: "List the served resource types",
		Long: `List the resource types served by japi serve. With a type name, show
its attributes and relationships.

Examples:
  japi types
  japi types Post`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := blog.Registry()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				listTypes(out, registry, noColor(cmd))
				return nil
			}

			if !registry.Has(args[0]) {
				cmd.PrintErr(ui.TypeNotFoundError(args[0], registry.Names(), noColor(cmd)))
				return fmt.Errorf("unknown resource type %q", args[0])
			}
			rt, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			describeType(out, registry, rt, noColor(cmd))
			return nil
		},
	}
}

func listTypes(w io.Writer, registry *schema.Registry, noColor bool) {
	ui.Header(w, "Resource types", noColor)
	table := ui.NewTable(w, noColor, "Type", "Extends", "Attributes", "Relationships")
	for _, rt := range registry.Types() {
		table.AddRow(
			rt.Name,
			orDash(rt.Extends),
			strconv.Itoa(len(rt.AttributeNames())),
			strconv.Itoa(len(rt.RelationshipNames())),
		)
	}
	table.Render()
}

func describeType(w io.Writer, registry *schema.Registry, rt *schema.ResourceType, noColor bool) {
	ui.Header(w, rt.Name, noColor)

	kv := ui.NewKeyValueTable(w, noColor)
	kv.AddRow("Extends", orDash(rt.Extends))
	kv.AddRow("Subtypes", orDash(strings.Join(registry.Subtypes(rt.Name), ", ")))
	kv.AddRow("Client ids", yesNo(rt.AcceptsClientIDs()))
	kv.Render()
	fmt.Fprintln(w)

	table := ui.NewTable(w, noColor, "Field", "Kind", "Target", "Writable")
	for _, name := range rt.AttributeNames() {
		attr, _ := rt.Attribute(name)
		table.AddRow(name, "attribute", "-", yesNo(attr.Writable()))
	}
	for _, name := range rt.RelationshipNames() {
		rel, _ := rt.Relationship(name)
		target := rel.Target
		if target == "" {
			target = "any"
		}
		table.AddRow(name, rel.Cardinality.String(), target, yesNo(rel.CanSet()))
	}
	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
