package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestSessionIDCommand(t *testing.T) {
	cmd := sessionIDCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--email", "jane@example.com", "--date", "2024-05-14"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute err: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "user_jane_example_com_2024-05-14" {
		t.Fatalf("unexpected id: %q", got)
	}
}

func TestSessionIDCommandEphemeral(t *testing.T) {
	cmd := sessionIDCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--email", "jane@example.com", "--ephemeral", "--date", "2024-05-14"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute err: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "user_jane_example_com_1715644800000" {
		t.Fatalf("unexpected id: %q", got)
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("AUTH_SECRET", "")

	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--email", "jane@example.com"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without AUTH_SECRET")
	}
}
