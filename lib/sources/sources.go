/*
 * Aircover
 * Copyright (C) 2025  Aircover, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package sources implements the provider adapters behind the flight
// and weather aggregators. Each adapter maps one upstream HTTP API onto
// the canonical record types; fan-out, health tracking and conflict
// resolution live in lib/aggregate.
package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/trace"
)

// maxResponseBytes bounds how much of an upstream response body an
// adapter will read.
const maxResponseBytes = 1 << 20

// getJSON issues a GET to the url with the extra headers and decodes
// the JSON response into out. Transport failures and non-2xx statuses
// come back as connection problems so the pipeline marks the source
// unhealthy.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "request to provider failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return trace.ConnectionProblem(err, "reading provider response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return trace.ConnectionProblem(nil, "provider returned status %v", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return trace.BadParameter("malformed provider response: %v", err)
	}
	return nil
}

// ping issues a GET and reports whether the endpoint answered with any
// HTTP status at all. Used by availability probes, where a 4xx still
// proves the provider is reachable.
func ping(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
