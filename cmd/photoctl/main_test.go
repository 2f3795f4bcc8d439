package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"metadata": false, "status": false, "ingest": false, "upload": false, "get": false, "test": false, "run": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}

func TestStatusRequiresFlags(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status", "--id", "photo1.jpg"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "decision") {
		t.Fatalf("expected missing --decision error, got %v", err)
	}
}
