package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func runCapture(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr strings.Builder
	err := run(context.Background(), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	stdout, _, err := runCapture(t, "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "clerk") {
		t.Errorf("output = %q", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	stdout, _, err := runCapture(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunNoCommand(t *testing.T) {
	stdout, _, err := runCapture(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Errorf("output = %q", stdout)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	_, _, err := runCapture(t, "bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	_, _, err := runCapture(t, "-frobnicate")
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v", err)
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	_, _, err := runCapture(t, "-o", "yaml", "version")
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v", err)
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	_, _, err := runCapture(t, "ask")
	if err == nil || !strings.Contains(err.Error(), "usage: clerk ask") {
		t.Errorf("err = %v", err)
	}
}

func TestRunIngestRequiresArgs(t *testing.T) {
	_, _, err := runCapture(t, "ingest", "docs")
	if err == nil || !strings.Contains(err.Error(), "usage: clerk ingest") {
		t.Errorf("err = %v", err)
	}
}
