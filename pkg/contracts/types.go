// Package contracts defines the five contract kinds accepted by the guard,
// the caller-facing input shape, and the closed set of typed payloads that
// feed the projections.
package contracts

import (
	"fmt"
	"strings"
)

// Type is the declared kind of a contract.
type Type string

const (
	TypeOrder    Type = "Order"
	TypePulse    Type = "Pulse"
	TypeDecision Type = "Decision"
	TypeIntent   Type = "Intent"
	TypeUplink   Type = "Uplink"
)

// AllTypes returns the known contract types in a stable order.
func AllTypes() []Type {
	return []Type{TypeOrder, TypePulse, TypeDecision, TypeIntent, TypeUplink}
}

// Valid reports whether t is one of the five known kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeOrder, TypePulse, TypeDecision, TypeIntent, TypeUplink:
		return true
	}
	return false
}

// SchemaFile is the conventional schema document name for t.
func (t Type) SchemaFile() string {
	return strings.ToLower(string(t)) + ".schema.json"
}

// ParseType matches s case-insensitively against the known kinds.
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes() {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown contract type %q", s)
}

// InferType derives a contract type from a file name prefix,
// e.g. "order.example.json" -> Order. The match is case-insensitive.
func InferType(filename string) (Type, bool) {
	lower := strings.ToLower(filename)
	for _, t := range AllTypes() {
		if strings.HasPrefix(lower, strings.ToLower(string(t))) {
			return t, true
		}
	}
	return "", false
}

// IsContractFile reports whether a directory entry name looks like a
// contract document. The ".json" suffix is matched case-insensitively.
func IsContractFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

// Status is the decision recorded in the ledger for a contract.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts ACCEPTED or REJECTED in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown contract status %q", s)
}

// Input is a contract submitted to the guard. The core never mutates it.
type Input struct {
	ContractID   string         `json:"contractId"`
	ContractType Type           `json:"contractType"`
	Data         map[string]any `json:"data"`
}
