package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/seantiz/taskloop/internal/config"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "Version:    "+Version) {
		t.Errorf("output = %q, want version %s", out.String(), Version)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "demo", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
}

func TestDemoFinishesEveryTask(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := demo(context.Background(), cfg, 500); err != nil {
		t.Fatalf("demo: %v", err)
	}
}
