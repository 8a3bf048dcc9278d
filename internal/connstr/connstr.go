// SPDX-License-Identifier: Apache-2.0

// Package connstr implements connection-string manipulation shared by the
// connection factory (§4.9): setting a Postgres search_path, and rewriting
// a DSN's database/schema component for server-only reachability probes.
package connstr

import (
	"fmt"
	"net/url"
	"strings"
)

// AppendSearchPathOption takes a Postgres connection string in URL format
// and produces the same connection string with the search_path option set
// to the provided schema.
func AppendSearchPathOption(connStr, schema string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}

	if schema == "" {
		return connStr, nil
	}

	q := u.Query()
	q.Set("options", fmt.Sprintf("-c search_path=%s", schema))
	encodedQuery := q.Encode()

	// Replace '+' with '%20' to ensure proper encoding of spaces within the
	// `options` query parameter.
	encodedQuery = strings.ReplaceAll(encodedQuery, "+", "%20")

	u.RawQuery = encodedQuery

	return u.String(), nil
}

// WithDatabase returns connStr with its path component (the database name)
// replaced by dbName, used by the connection factory's server-only
// reachability probe (§4.9) to target postgres/master instead of a database
// that may not exist yet. An empty dbName drops the path component
// entirely, matching MySQL DSNs where the database is optional.
func WithDatabase(connStr, dbName string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}

	if dbName == "" {
		u.Path = ""
		return u.String(), nil
	}

	u.Path = "/" + dbName
	return u.String(), nil
}
