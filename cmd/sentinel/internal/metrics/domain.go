// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPDomainSource pulls the trading-domain block from the platform's
// metrics endpoint.
type HTTPDomainSource struct {
	url    string
	client *http.Client
}

// NewHTTPDomainSource builds a domain source for the given endpoint.
func NewHTTPDomainSource(url string) *HTTPDomainSource {
	return &HTTPDomainSource{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Collect implements DomainSource.
func (s *HTTPDomainSource) Collect(ctx context.Context) (DomainBlock, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return DomainBlock{}, fmt.Errorf("domain source: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return DomainBlock{}, fmt.Errorf("domain source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DomainBlock{}, fmt.Errorf("domain source: status %d", resp.StatusCode)
	}
	var block DomainBlock
	if err := json.NewDecoder(resp.Body).Decode(&block); err != nil {
		return DomainBlock{}, fmt.Errorf("domain source: decode: %w", err)
	}
	return block, nil
}
