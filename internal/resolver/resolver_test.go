/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestResolveReturnsSingleLineURL(t *testing.T) {
	r := New(Config{
		Bin:  "sh",
		Args: []string{"-c", `echo "https://cdn.example/audio?sig=$0"`},
	}, zerolog.Nop())

	url, err := r.Resolve(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if url != "https://cdn.example/audio?sig=abc123" {
		t.Fatalf("unexpected url: %q", url)
	}
}

func TestResolveFailsOnNonZeroExit(t *testing.T) {
	r := New(Config{Bin: "false"}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "abc123")
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("expected ErrResolveFailed, got %v", err)
	}
}

func TestResolveFailsOnEmptyOutput(t *testing.T) {
	r := New(Config{Bin: "true"}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "abc123")
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("expected ErrResolveFailed, got %v", err)
	}
}

func TestResolveFailsOnMultiLineOutput(t *testing.T) {
	r := New(Config{
		Bin:  "sh",
		Args: []string{"-c", `printf "one\ntwo\n"`},
	}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "abc123")
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("expected ErrResolveFailed, got %v", err)
	}
}

func TestResolveTimesOut(t *testing.T) {
	r := New(Config{
		Bin:     "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	_, err := r.Resolve(context.Background(), "abc123")
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("expected ErrResolveFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("resolve not bounded by timeout, took %s", elapsed)
	}
}

func TestParseOutputTrimsWhitespace(t *testing.T) {
	url, err := parseOutput("  https://cdn.example/a  \n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if url != "https://cdn.example/a" {
		t.Fatalf("unexpected url: %q", url)
	}
}
