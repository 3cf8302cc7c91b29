package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "Name", "Kind", "Target")

	table.AddRow("title", "attribute")
	table.AddRow("author", "to-one", "User")
	table.AddRow("comments", "to-many", "Comment")
	table.Render()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header, separator and 3 rows, got %d lines:\n%s", len(lines), buf.String())
	}

	if lines[0] != "Name      Kind       Target" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "────────") {
		t.Errorf("expected separator, got %q", lines[1])
	}
	if lines[2] != "title     attribute" {
		t.Errorf("expected trailing blanks to be trimmed, got %q", lines[2])
	}
	if lines[3] != "author    to-one     User" {
		t.Errorf("unexpected row %q", lines[3])
	}
	if table.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", table.Len())
	}
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()

	if buf.String() != "" {
		t.Errorf("Expected empty output for table with no headers, got: %q", buf.String())
	}
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)

	kv.AddRow("Type", "Admin")
	kv.AddRow("Extends", "User")
	kv.Render()

	expected := "Type:    Admin\nExtends: User\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Types", true)

	if buf.String() != "Types\n─────\n" {
		t.Errorf("unexpected header %q", buf.String())
	}
}
