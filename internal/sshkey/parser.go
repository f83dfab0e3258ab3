// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey normalizes stored public keys and computes fingerprints.
// It wraps golang.org/x/crypto/ssh so the rest of the application never
// handles wire-format details directly.
package sshkey

import (
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Parse splits a raw public key string (like one from an authorized_keys
// file) into its three core components: algorithm, key data, and comment.
// It correctly handles leading options in the line (e.g., from="...").
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if strings.HasPrefix(field, "ssh-") || strings.HasPrefix(field, "ecdsa-") || strings.HasPrefix(field, "sk-") {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

// IsSSH2 reports whether the raw text looks like an RFC 4716 (SSH2)
// public key block rather than a single-line OpenSSH key.
func IsSSH2(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "---- BEGIN SSH2 PUBLIC KEY ----")
}

// Normalize converts a public key in either OpenSSH or SSH2 (RFC 4716)
// format into the canonical single-line OpenSSH form and returns it
// together with its SHA256 fingerprint. Any options embedded in the
// line are dropped; restrictions live in the ssh_options column, not in
// the stored key. The returned line has no trailing newline.
func Normalize(raw string) (line, fingerprint string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty public key")
	}

	if IsSSH2(raw) {
		raw, err = ssh2ToOpenSSH(raw)
		if err != nil {
			return "", "", err
		}
	} else {
		algorithm, keyData, comment, perr := Parse(raw)
		if perr != nil {
			return "", "", perr
		}
		raw = strings.TrimSpace(algorithm + " " + keyData + " " + comment)
	}

	pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(raw))
	if err != nil {
		return "", "", fmt.Errorf("unparseable public key: %w", err)
	}

	line = strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(pub)), "\n")
	if comment != "" {
		line = line + " " + comment
	}
	return line, ssh.FingerprintSHA256(pub), nil
}

// ssh2ToOpenSSH folds an RFC 4716 block into a single OpenSSH line. The
// key algorithm is recovered from the base64 blob itself, so header
// lines other than Comment are ignored.
func ssh2ToOpenSSH(raw string) (string, error) {
	var b64 strings.Builder
	var comment string
	inContinuation := false

	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		switch {
		case l == "" || strings.HasPrefix(l, "----"):
			continue
		case inContinuation:
			inContinuation = strings.HasSuffix(l, "\\")
			continue
		case strings.Contains(l, ":"):
			if strings.HasPrefix(strings.ToLower(l), "comment:") {
				comment = strings.Trim(strings.TrimSpace(l[len("comment:"):]), `"`)
			}
			inContinuation = strings.HasSuffix(l, "\\")
		default:
			b64.WriteString(l)
		}
	}

	blob, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return "", fmt.Errorf("invalid SSH2 key body: %w", err)
	}
	pub, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return "", fmt.Errorf("invalid SSH2 key: %w", err)
	}

	line := pub.Type() + " " + b64.String()
	if comment != "" {
		line = line + " " + comment
	}
	return line, nil
}
