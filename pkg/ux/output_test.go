// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	fn()
	return buf.String()
}

func TestSuccess(t *testing.T) {
	got := captureOutput(t, func() { Success("workspace ready") })
	if !strings.Contains(got, "workspace ready") {
		t.Errorf("Success output = %q, want it to contain message", got)
	}
	if !strings.Contains(got, "✓") {
		t.Errorf("Success output = %q, want check mark", got)
	}
}

func TestError(t *testing.T) {
	got := captureOutput(t, func() { Error("compose up failed") })
	if !strings.Contains(got, "compose up failed") || !strings.Contains(got, "✗") {
		t.Errorf("Error output = %q", got)
	}
}

func TestPhase(t *testing.T) {
	got := captureOutput(t, func() { Phase("Starting infrastructure") })
	if !strings.Contains(got, "Starting infrastructure") {
		t.Errorf("Phase output = %q", got)
	}
}

func TestServiceLine(t *testing.T) {
	tests := []struct {
		name    string
		service string
		stream  string
		text    string
	}{
		{"stdout line", "api", "stdout", "listening on :8080"},
		{"stderr line", "db", "stderr", "checkpoint starting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := captureOutput(t, func() { ServiceLine(tt.service, tt.stream, tt.text) })
			if !strings.Contains(got, tt.service) || !strings.Contains(got, tt.text) {
				t.Errorf("ServiceLine output = %q", got)
			}
			if !strings.Contains(got, " | ") {
				t.Errorf("ServiceLine output = %q, want service prefix separator", got)
			}
		})
	}
}

func TestIcon_Render(t *testing.T) {
	// With NO_COLOR set, Render returns the bare rune.
	t.Setenv("NO_COLOR", "1")
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		if got := icon.Render(); got == "" {
			t.Errorf("Icon(%q).Render() returned empty string", string(icon))
		}
	}
}
