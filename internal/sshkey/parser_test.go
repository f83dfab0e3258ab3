// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"strings"
	"testing"
)

const (
	testKeyB64  = "AAAAC3NzaC1lZDI1NTE5AAAAIOAjjn0pO+NBewXIymg4ncIj05dhne4Lf0OP1JOkl4SU"
	testKeyLine = "ssh-ed25519 " + testKeyB64
	testKeyFP   = "SHA256:QK4sfRWM4LL0iecgtda6nnDP6lU9CpvDbieCw/q+L7U"
)

const testSSH2Key = `---- BEGIN SSH2 PUBLIC KEY ----
Comment: "alice@workstation"
AAAAC3NzaC1lZDI1NTE5AAAAIOAjjn0pO+NBewXIymg4ncIj05dhne4Lf0OP1JOk
l4SU
---- END SSH2 PUBLIC KEY ----`

func TestParse(t *testing.T) {
	algo, data, comment, err := Parse(testKeyLine + " alice@workstation")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if algo != "ssh-ed25519" || data != testKeyB64 || comment != "alice@workstation" {
		t.Fatalf("unexpected parse result: %q %q %q", algo, data, comment)
	}
}

func TestParse_WithLeadingOptions(t *testing.T) {
	algo, data, _, err := Parse(`no-pty,command="uptime" ` + testKeyLine)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if algo != "ssh-ed25519" || data != testKeyB64 {
		t.Fatalf("unexpected parse result: %q %q", algo, data)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, _, _, err := Parse(""); err == nil {
		t.Fatalf("expected an error for an empty line")
	}
	if _, _, _, err := Parse("this is not a key"); err == nil {
		t.Fatalf("expected an error for a line without a key type")
	}
	if _, _, _, err := Parse("ssh-ed25519"); err == nil {
		t.Fatalf("expected an error for a missing key body")
	}
}

func TestIsSSH2(t *testing.T) {
	if !IsSSH2(testSSH2Key) {
		t.Fatalf("expected SSH2 block to be detected")
	}
	if IsSSH2(testKeyLine) {
		t.Fatalf("expected OpenSSH line not to be detected as SSH2")
	}
}

func TestNormalize_OpenSSH(t *testing.T) {
	line, fp, err := Normalize(testKeyLine + " alice@workstation\n")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if line != testKeyLine+" alice@workstation" {
		t.Fatalf("unexpected normalized line: %q", line)
	}
	if strings.HasSuffix(line, "\n") {
		t.Fatalf("normalized line must not carry a trailing newline")
	}
	if fp != testKeyFP {
		t.Fatalf("fingerprint mismatch: got %q, want %q", fp, testKeyFP)
	}
}

func TestNormalize_StripsInlineOptions(t *testing.T) {
	line, fp, err := Normalize(`no-pty,from="10.0.0.0/8" ` + testKeyLine + " alice@workstation")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if line != testKeyLine+" alice@workstation" {
		t.Fatalf("expected inline options to be dropped, got %q", line)
	}
	if fp != testKeyFP {
		t.Fatalf("fingerprint mismatch: got %q, want %q", fp, testKeyFP)
	}
}

func TestNormalize_SSH2(t *testing.T) {
	line, fp, err := Normalize(testSSH2Key)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if line != testKeyLine+" alice@workstation" {
		t.Fatalf("unexpected normalized line: %q", line)
	}
	if fp != testKeyFP {
		t.Fatalf("fingerprint mismatch: got %q, want %q", fp, testKeyFP)
	}
}

func TestNormalize_Errors(t *testing.T) {
	if _, _, err := Normalize(""); err == nil {
		t.Fatalf("expected an error for an empty key")
	}
	if _, _, err := Normalize("ssh-ed25519 not-base64!!"); err == nil {
		t.Fatalf("expected an error for garbage key data")
	}
}
