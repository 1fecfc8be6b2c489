// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers for the cache service
// client.
//
// Response helpers (ReadResponse, DecodeResponse, ErrorBody) bound all
// body reads so a misbehaving server cannot exhaust memory. They are
// for JSON API responses and error bodies, not for archive transfers,
// which stream from disk.
//
// RedactURL strips credentials from presigned upload URLs before they
// appear in logs or error messages.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MaxResponseSize is the bound on JSON API response body reads: 64 MB.
// A negotiation response lists one presigned URL per pending object, so
// it grows with closure size; even closures of tens of thousands of
// paths stay well below this.
const MaxResponseSize int64 = 64 << 20

// MaxErrorBodySize bounds how much of an error response is kept for
// diagnostics. Object stores return short XML or JSON error documents;
// anything longer is truncated.
const MaxErrorBodySize int64 = 4 << 10

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v. Replaces the common io.ReadAll + json.Unmarshal
// pattern.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a string for
// diagnostic error messages, trimmed and truncated to MaxErrorBodySize.
// Read errors are silently ignored: a partial or empty body is still useful
// in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize+1))
	text := strings.TrimSpace(string(data))
	if int64(len(data)) > MaxErrorBodySize {
		text = strings.TrimSpace(string(data[:MaxErrorBodySize])) + "...(truncated)"
	}
	return text
}

// RedactURL returns rawURL without its query string, user info and
// fragment. Presigned URLs carry their signature in the query; the
// remainder still identifies the target for diagnostics. Unparseable
// input is replaced entirely.
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable URL>"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}
