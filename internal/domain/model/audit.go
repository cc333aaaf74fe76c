package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent records one API decision for the audit trail. Events are
// append-only; Signature seals the payload at capture time so later
// tampering is detectable.
type AuditEvent struct {
	DecisionID string    `json:"decision_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Action     string    `json:"action"`
	EntityID   string    `json:"entity_id,omitempty"`
	StatusCode int       `json:"status_code"`
	LatencyMS  float64   `json:"latency_ms"`
	BodySize   int64     `json:"body_size"`
	ActorIP    string    `json:"actor_ip,omitempty"`
	ActorAgent string    `json:"actor_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  string    `json:"signature"`
}

// Sign computes the hex SHA-256 over the event's canonical form and stores
// it on the event. The signature field itself is excluded from the digest.
func (e *AuditEvent) Sign() error {
	digest, err := e.digest()
	if err != nil {
		return err
	}
	e.Signature = digest
	return nil
}

// Verify reports whether the stored signature still matches the payload.
func (e *AuditEvent) Verify() (bool, error) {
	digest, err := e.digest()
	if err != nil {
		return false, err
	}
	return e.Signature == digest, nil
}

func (e *AuditEvent) digest() (string, error) {
	clone := *e
	clone.Signature = ""
	payload, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit event: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
