// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/browserpipe/browserpipe/lib/process"
)

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"version"}, nil, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "browserpipe ") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestRunVersionVerbose(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"version", "-v"}, nil, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("run version -v: %v", err)
	}
	if !strings.Contains(stdout.String(), "Platform:") {
		t.Errorf("verbose output = %q", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{nil, {"frobnicate"}} {
		var stderr bytes.Buffer
		err := run(context.Background(), args, nil, &bytes.Buffer{}, &stderr)
		var exitError *process.ExitError
		if !errors.As(err, &exitError) || exitError.Code != 2 {
			t.Errorf("run(%v) = %v, want exit status 2", args, err)
		}
		if !strings.Contains(stderr.String(), "Usage:") {
			t.Errorf("run(%v) printed no usage", args)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, command := range []string{"serve", "pipe", "watch"} {
		var stderr bytes.Buffer
		if err := run(context.Background(), []string{command, "--help"}, nil, &bytes.Buffer{}, &stderr); err != nil {
			t.Errorf("%s --help: %v", command, err)
		}
		if !strings.Contains(stderr.String(), "--config") {
			t.Errorf("%s --help output lacks flags: %q", command, stderr.String())
		}
	}
}

func TestSubcommandRejectsArguments(t *testing.T) {
	err := run(context.Background(), []string{"serve", "extra"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unexpected argument") {
		t.Errorf("serve extra = %v", err)
	}
}
