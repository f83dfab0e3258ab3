// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package authz

import (
	"reflect"
	"sort"
	"testing"

	"github.com/toeirei/keygate/internal/model"
)

func TestParseOptions_EmptyAndMalformed(t *testing.T) {
	if got := ParseOptions(""); got != nil {
		t.Fatalf("expected nil for empty payload, got %+v", got)
	}
	if got := ParseOptions("   "); got != nil {
		t.Fatalf("expected nil for blank payload, got %+v", got)
	}
	if got := ParseOptions("{not json"); got != nil {
		t.Fatalf("expected nil for malformed payload, got %+v", got)
	}
}

func TestMerge_NilIdentity(t *testing.T) {
	o := &SSHOptions{Command: "uptime", NoPty: true}
	if got := Merge(o, nil); got != o {
		t.Fatalf("expected Merge(o, nil) to return o")
	}
	if got := Merge(nil, o); got != o {
		t.Fatalf("expected Merge(nil, o) to return o")
	}
	if got := Merge(nil, nil); got != nil {
		t.Fatalf("expected Merge(nil, nil) to be nil")
	}
}

func TestMerge_CommandLeftWins(t *testing.T) {
	a := &SSHOptions{Command: "rsync --server"}
	b := &SSHOptions{Command: "uptime"}
	if got := Merge(a, b).Command; got != "rsync --server" {
		t.Fatalf("expected higher-priority command to win, got %q", got)
	}
	// An empty higher-priority command falls through.
	if got := Merge(&SSHOptions{}, b).Command; got != "uptime" {
		t.Fatalf("expected fall-through to lower-priority command, got %q", got)
	}
}

func TestMerge_SetsUnionFirstSeen(t *testing.T) {
	a := &SSHOptions{From: []string{"10.0.0.0/8", "192.168.1.1"}}
	b := &SSHOptions{From: []string{"192.168.1.1", "172.16.0.0/12"}}
	want := []string{"10.0.0.0/8", "192.168.1.1", "172.16.0.0/12"}
	if got := Merge(a, b).From; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	a := &SSHOptions{
		From:    []string{"10.0.0.0/8"},
		Command: "uptime",
		NoPty:   true,
	}
	if got := Merge(a, a); !reflect.DeepEqual(got, a) {
		t.Fatalf("expected merge(a, a) == a, got %+v", got)
	}
}

func TestMerge_SetFieldsCommutative(t *testing.T) {
	a := &SSHOptions{From: []string{"10.0.0.0/8"}, Permitopen: []string{"db:5432"}}
	b := &SSHOptions{From: []string{"172.16.0.0/12"}, Permitopen: []string{"db:5432", "web:80"}}

	ab, ba := Merge(a, b), Merge(b, a)
	sortIn := func(o *SSHOptions) {
		sort.Strings(o.From)
		sort.Strings(o.Permitopen)
	}
	sortIn(ab)
	sortIn(ba)
	if !reflect.DeepEqual(ab.From, ba.From) || !reflect.DeepEqual(ab.Permitopen, ba.Permitopen) {
		t.Fatalf("set fields must merge commutatively: %+v vs %+v", ab, ba)
	}
}

func TestMerge_FlagsOr(t *testing.T) {
	a := &SSHOptions{NoPty: true}
	b := &SSHOptions{NoPortForwarding: true}
	got := Merge(a, b)
	if !got.NoPty || !got.NoPortForwarding {
		t.Fatalf("expected both flags set, got %+v", got)
	}
	if got.NoAgentForwarding || got.NoUserRc || got.NoX11Forwarding {
		t.Fatalf("expected unset flags to stay unset, got %+v", got)
	}
}

func TestRender_FieldOrder(t *testing.T) {
	o := &SSHOptions{
		From:              []string{"10.0.0.0/8"},
		Permitopen:        []string{"localhost:5432"},
		Environment:       []string{"ROLE=deploy"},
		Command:           "uptime",
		NoAgentForwarding: true,
		NoPortForwarding:  true,
		NoPty:             true,
		NoUserRc:          true,
		NoX11Forwarding:   true,
	}
	want := `from="10.0.0.0/8",permitopen="localhost:5432",environment="ROLE=deploy",command="uptime",` +
		`no-agent-forwarding,no-port-forwarding,no-pty,no-user-rc,no-x11-forwarding`
	if got := o.Render(); got != want {
		t.Fatalf("render mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestRender_Empty(t *testing.T) {
	var o *SSHOptions
	if got := o.Render(); got != "" {
		t.Fatalf("expected empty render for nil options, got %q", got)
	}
	if got := (&SSHOptions{}).Render(); got != "" {
		t.Fatalf("expected empty render for zero options, got %q", got)
	}
}

func TestDistance(t *testing.T) {
	// Request nobody@wwwserver: user+host length 15. Exact patterns are
	// maximally specific (0); the distance grows with how much shorter
	// the pattern is than the request.
	cases := []struct {
		userPattern, hostPattern string
		want                     int
	}{
		{"nobody", "wwwserver", 0},
		{"%", "%", 13},
		{"nobody%", "wwwserver%", 0},
		{"%", "www%", 10},
	}
	for _, c := range cases {
		p := model.Permission{UserPattern: c.userPattern, HostPattern: c.hostPattern}
		if got := Distance("nobody", "wwwserver", p); got != c.want {
			t.Fatalf("Distance for (%q, %q): got %d, want %d", c.userPattern, c.hostPattern, got, c.want)
		}
	}
}
