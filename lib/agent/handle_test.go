// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "testing"

func TestOutcomeConstructors(t *testing.T) {
	if outcome := Succeeded("done"); !outcome.Success || outcome.Message != "done" {
		t.Fatalf("Succeeded() = %+v", outcome)
	}
	if outcome := Failed("boom"); outcome.Success || outcome.Message != "boom" {
		t.Fatalf("Failed() = %+v", outcome)
	}
}

func TestDisplayLabelFallsBackToID(t *testing.T) {
	tests := []struct {
		option PermissionOption
		want   string
	}{
		{PermissionOption{ID: "allow", Label: "Allow once"}, "Allow once"},
		{PermissionOption{ID: "deny"}, "deny"},
	}
	for _, test := range tests {
		if got := test.option.DisplayLabel(); got != test.want {
			t.Errorf("DisplayLabel(%+v) = %q, want %q", test.option, got, test.want)
		}
	}
}
