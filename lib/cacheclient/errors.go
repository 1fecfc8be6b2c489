// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"errors"
	"fmt"
)

// ConfigError reports an unusable service URL or credential.
type ConfigError struct {
	Field  string
	Reason string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("cacheclient: invalid %s: %s", err.Field, err.Reason)
}

// ProtocolError is a non-2xx response from the cache service or from a
// presigned upload target.
type ProtocolError struct {
	// Operation is "negotiate", "upload" or "complete".
	Operation string

	// URL is the request URL with its query string removed, since a
	// presigned URL's query is its credential.
	URL string

	StatusCode int

	// Body is the (truncated) response body, for diagnosis.
	Body string
}

func (err *ProtocolError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("cacheclient: %s %s: HTTP %d", err.Operation, err.URL, err.StatusCode)
	}
	return fmt.Sprintf("cacheclient: %s %s: HTTP %d: %s", err.Operation, err.URL, err.StatusCode, err.Body)
}

// IsUnauthorized reports whether err is a 401 or 403 from the service,
// which almost always means a wrong or expired auth token.
func IsUnauthorized(err error) bool {
	var protocolError *ProtocolError
	return errors.As(err, &protocolError) &&
		(protocolError.StatusCode == 401 || protocolError.StatusCode == 403)
}
