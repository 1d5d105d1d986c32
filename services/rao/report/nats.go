// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
)

// DefaultSubject prefixes the subjects events are published on.
const DefaultSubject = "rao.searchtree"

// Publisher is the part of a NATS connection the sink needs.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type flusher interface {
	Flush() error
}

// NATSSink publishes events as JSON on "<subject>.<kind>".
//
// Thread Safety: Safe for concurrent use; *nats.Conn is.
type NATSSink struct {
	pub     Publisher
	subject string
	owned   *nats.Conn

	mu     sync.RWMutex
	closed bool
}

// NewNATSSink publishes through pub. An empty subject uses DefaultSubject.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

// DialNATS connects to a NATS server and returns a sink owning the
// connection; Close drains it.
//
// Inputs:
//
//	url - Server URL, nats.DefaultURL when empty.
//	subject - Subject prefix, DefaultSubject when empty.
//
// Outputs:
//
//	*NATSSink - The sink.
//	error - Non-nil if the connection cannot be established.
func DialNATS(url, subject string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("searchtree"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	s := NewNATSSink(nc, subject)
	s.owned = nc
	return s, nil
}

// Subject returns the subject an event kind is published on.
func (s *NATSSink) Subject(k Kind) string {
	return s.subject + "." + string(k)
}

// Emit implements Sink.
func (s *NATSSink) Emit(_ context.Context, e Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	if err := s.pub.Publish(s.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	return nil
}

// Close flushes pending messages and, for a dialed sink, drains the
// connection. Idempotent.
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned != nil {
		return s.owned.Drain()
	}
	if f, ok := s.pub.(flusher); ok {
		return f.Flush()
	}
	return nil
}
