// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package authz implements the permission resolution engine: pattern
// matching, specificity ranking and the merge/render pipeline that turns
// permission rules into authorized_keys restriction strings.
package authz

import (
	"encoding/json"
	"strings"
)

// SSHOptions is the parsed form of a stored restriction-option set.
// List fields and flags mirror the option names understood by sshd.
type SSHOptions struct {
	From              []string `json:"from,omitempty"`
	Permitopen        []string `json:"permitopen,omitempty"`
	Environment       []string `json:"environment,omitempty"`
	Command           string   `json:"command,omitempty"`
	NoAgentForwarding bool     `json:"no-agent-forwarding,omitempty"`
	NoPortForwarding  bool     `json:"no-port-forwarding,omitempty"`
	NoPty             bool     `json:"no-pty,omitempty"`
	NoUserRc          bool     `json:"no-user-rc,omitempty"`
	NoX11Forwarding   bool     `json:"no-x11-forwarding,omitempty"`
}

// ParseOptions decodes a stored JSON option payload. A malformed payload
// degrades to nil (no restrictions): one bad row must never blank the
// whole resolution.
func ParseOptions(raw string) *SSHOptions {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var o SSHOptions
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil
	}
	return &o
}

// Merge combines two option sets, with a as the higher-priority operand.
// Set-valued fields union (first-seen order, deduplicated), command
// prefers a's non-empty value, boolean flags OR. A nil operand is the
// identity element.
func Merge(a, b *SSHOptions) *SSHOptions {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := &SSHOptions{
		From:              unionStrings(a.From, b.From),
		Permitopen:        unionStrings(a.Permitopen, b.Permitopen),
		Environment:       unionStrings(a.Environment, b.Environment),
		Command:           a.Command,
		NoAgentForwarding: a.NoAgentForwarding || b.NoAgentForwarding,
		NoPortForwarding:  a.NoPortForwarding || b.NoPortForwarding,
		NoPty:             a.NoPty || b.NoPty,
		NoUserRc:          a.NoUserRc || b.NoUserRc,
		NoX11Forwarding:   a.NoX11Forwarding || b.NoX11Forwarding,
	}
	if out.Command == "" {
		out.Command = b.Command
	}
	return out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Render serializes the option set into a single authorized_keys
// restriction string. Field order is fixed: from, permitopen,
// environment, command, then the boolean flags in their canonical
// order. An empty set renders to the empty string.
func (o *SSHOptions) Render() string {
	if o == nil {
		return ""
	}
	var parts []string
	if len(o.From) > 0 {
		parts = append(parts, `from="`+strings.Join(o.From, ",")+`"`)
	}
	if len(o.Permitopen) > 0 {
		parts = append(parts, `permitopen="`+strings.Join(o.Permitopen, ",")+`"`)
	}
	if len(o.Environment) > 0 {
		parts = append(parts, `environment="`+strings.Join(o.Environment, ",")+`"`)
	}
	if o.Command != "" {
		parts = append(parts, `command="`+o.Command+`"`)
	}
	if o.NoAgentForwarding {
		parts = append(parts, "no-agent-forwarding")
	}
	if o.NoPortForwarding {
		parts = append(parts, "no-port-forwarding")
	}
	if o.NoPty {
		parts = append(parts, "no-pty")
	}
	if o.NoUserRc {
		parts = append(parts, "no-user-rc")
	}
	if o.NoX11Forwarding {
		parts = append(parts, "no-x11-forwarding")
	}
	return strings.Join(parts, ",")
}
