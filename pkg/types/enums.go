// Package types defines the domain types shared by the telemetry store,
// the stream tailer and the alert engine.
package types

import (
	"fmt"
	"strings"
)

// Severity orders alert importance. Higher values are more severe.
type Severity int

// Severity values in ascending order.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the lower- or upper-case severity name.
func ParseSeverity(s string) (Severity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Operator compares a metric value against a threshold.
type Operator string

// Operator values.
const (
	OpLessThan    Operator = "lt"
	OpGreaterThan Operator = "gt"
	OpEqual       Operator = "eq"
)

// ParseOperator accepts both the short form and the long form used in older
// rule documents ("less_than", "greater_than", "equals").
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lt", "less_than", "<":
		return OpLessThan, nil
	case "gt", "greater_than", ">":
		return OpGreaterThan, nil
	case "eq", "equals", "==":
		return OpEqual, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Holds reports whether value <op> threshold.
func (o Operator) Holds(value, threshold float64) bool {
	switch o {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

// PatternKind identifies a sliding-window pattern detector.
type PatternKind string

// PatternKind values enumerate the supported pattern detectors.
const (
	PatternSameErrorMessage PatternKind = "same_error_message"
	PatternOperationStuck   PatternKind = "operation_stuck"
	PatternMemoryGrowth     PatternKind = "memory_growth"
	PatternConsecutiveMatch PatternKind = "consecutive_match"
)

// ChannelType defines the notification channel backend.
type ChannelType string

// ChannelType values enumerate the supported notification channels.
const (
	ChannelConsole ChannelType = "console"
	ChannelFile    ChannelType = "file"
	ChannelWebhook ChannelType = "webhook"
	ChannelEmail   ChannelType = "email"
	ChannelSQS     ChannelType = "sqs"
)

// Event categories and types the indexer routes into specialized tables.
const (
	CategoryError   = "error"
	CategoryTextLog = "text_log"

	EventIncomeCollected      = "income_collected"
	EventConstructionStarted  = "construction_started"
	EventConstructionComplete = "construction_complete"
	EventResearchComplete     = "research_complete"
	EventUnitRecruited        = "unit_recruited"
	EventResourceTransaction  = "resource_transaction"
	EventBattleEnd            = "battle_end"
	EventFactionStats         = "faction_stats"
	EventLogError             = "log_error"
	EventRawLog               = "raw_log"
)
