package types

import "time"

// Rule is an alert rule. It is either a ThresholdRule or a PatternRule;
// evaluators switch on the concrete type.
type Rule interface {
	RuleName() string
	RuleSeverity() Severity
	isRule()
}

// ThresholdRule fires once Metric has satisfied Operator against Value for
// DurationTurns consecutive evaluations.
type ThresholdRule struct {
	Name          string   `json:"name"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	Metric        string   `json:"metric"`
	Operator      Operator `json:"operator"`
	Value         float64  `json:"value"`
	DurationTurns int      `json:"duration_turns"`
}

// RuleName implements Rule.
func (r ThresholdRule) RuleName() string { return r.Name }

// RuleSeverity implements Rule.
func (r ThresholdRule) RuleSeverity() Severity { return r.Severity }

func (ThresholdRule) isRule() {}

// PatternRule fires on a pattern observed in a turn-bounded window of events
// whose category or event type equals EventType.
type PatternRule struct {
	Name           string      `json:"name"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Kind           PatternKind `json:"pattern"`
	EventType      string      `json:"event_type"`
	WindowTurns    int         `json:"window_turns"`
	ThresholdCount int         `json:"threshold_count"`
	Metric         string      `json:"metric,omitempty"`
	Threshold      float64     `json:"threshold,omitempty"`
	Operator       Operator    `json:"operator,omitempty"`
	GrowthRate     float64     `json:"growth_rate,omitempty"`
}

// RuleName implements Rule.
func (r PatternRule) RuleName() string { return r.Name }

// RuleSeverity implements Rule.
func (r PatternRule) RuleSeverity() Severity { return r.Severity }

func (PatternRule) isRule() {}

// ChannelConfig configures one notification channel.
type ChannelConfig struct {
	Type        ChannelType   `yaml:"type" json:"type"`
	MinSeverity Severity      `yaml:"min_severity" json:"min_severity"`
	Path        string        `yaml:"path,omitempty" json:"path,omitempty"`
	Endpoints   []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	SMTPHost    string        `yaml:"smtp_host,omitempty" json:"smtp_host,omitempty"`
	SMTPPort    int           `yaml:"smtp_port,omitempty" json:"smtp_port,omitempty"`
	Username    string        `yaml:"username,omitempty" json:"-"`
	Password    string        `yaml:"password,omitempty" json:"-"`
	From        string        `yaml:"from_address,omitempty" json:"from_address,omitempty"`
	To          []string      `yaml:"to_addresses,omitempty" json:"to_addresses,omitempty"`
	QueueURL    string        `yaml:"queue_url,omitempty" json:"queue_url,omitempty"`
}

// RuleSet is a decoded alert rule document.
type RuleSet struct {
	Rules    []Rule
	Channels []ChannelConfig
}
