package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Rule defaults.
const (
	defaultWindowTurns    = 10
	defaultThresholdCount = 3
	defaultWebhookTimeout = 5 * time.Second
	defaultAlertsLog      = "logs/alerts.log"
)

type ruleDocument struct {
	Thresholds    map[string]thresholdEntry `yaml:"thresholds"`
	Patterns      map[string]patternEntry   `yaml:"patterns"`
	Notifications map[string]channelEntry   `yaml:"notifications"`
}

type thresholdEntry struct {
	Enabled       *bool   `yaml:"enabled"`
	Severity      string  `yaml:"severity"`
	Message       string  `yaml:"message"`
	Metric        string  `yaml:"metric"`
	Operator      string  `yaml:"operator"`
	Value         float64 `yaml:"value"`
	DurationTurns int     `yaml:"duration_turns"`
}

type patternEntry struct {
	Enabled        *bool   `yaml:"enabled"`
	Severity       string  `yaml:"severity"`
	Message        string  `yaml:"message"`
	Pattern        string  `yaml:"pattern"`
	EventType      string  `yaml:"event_type"`
	WindowTurns    int     `yaml:"window_turns"`
	ThresholdCount int     `yaml:"threshold_count"`
	Metric         string  `yaml:"metric"`
	Threshold      float64 `yaml:"threshold"`
	Operator       string  `yaml:"operator"`
	GrowthRate     float64 `yaml:"growth_rate_mb_per_turn"`
}

type channelEntry struct {
	Enabled     *bool           `yaml:"enabled"`
	MinSeverity string          `yaml:"min_severity"`
	Path        string          `yaml:"path"`
	Endpoints   []endpointEntry `yaml:"endpoints"`
	Timeout     time.Duration   `yaml:"timeout"`
	SMTPHost    string          `yaml:"smtp_host"`
	SMTPPort    int             `yaml:"smtp_port"`
	Username    string          `yaml:"username"`
	Password    string          `yaml:"password"`
	From        string          `yaml:"from_address"`
	To          []string        `yaml:"to_addresses"`
	QueueURL    string          `yaml:"queue_url"`
}

// endpointEntry is a webhook endpoint written either as a bare URL or as a
// mapping with a url key.
type endpointEntry string

func (e *endpointEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = endpointEntry(node.Value)
		return nil
	case yaml.MappingNode:
		var m struct {
			URL string `yaml:"url"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		if m.URL == "" {
			return fmt.Errorf("line %d: endpoint url is required", node.Line)
		}
		*e = endpointEntry(m.URL)
		return nil
	}
	return fmt.Errorf("line %d: endpoint must be a url or a mapping with a url", node.Line)
}

// channelDefaults holds, per channel, whether it is on when unconfigured and
// its default floor. Channels are built in this order.
var channelDefaults = []struct {
	typ     types.ChannelType
	enabled bool
	floor   types.Severity
}{
	{types.ChannelConsole, true, types.SeverityWarning},
	{types.ChannelFile, false, types.SeverityInfo},
	{types.ChannelWebhook, false, types.SeverityWarning},
	{types.ChannelEmail, false, types.SeverityError},
	{types.ChannelSQS, false, types.SeverityWarning},
}

// LoadRules reads the alert rule document at path. Disabled entries are
// dropped and rules are ordered by name.
func LoadRules(path string) (types.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RuleSet{}, fmt.Errorf("reading rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes an alert rule document.
func ParseRules(data []byte) (types.RuleSet, error) {
	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.RuleSet{}, fmt.Errorf("parsing rules: %w", err)
	}

	var set types.RuleSet
	for name, e := range doc.Thresholds {
		if !enabled(e.Enabled, true) {
			continue
		}
		r, err := e.rule(name)
		if err != nil {
			return types.RuleSet{}, fmt.Errorf("threshold %s: %w", name, err)
		}
		set.Rules = append(set.Rules, r)
	}
	for name, e := range doc.Patterns {
		if !enabled(e.Enabled, true) {
			continue
		}
		r, err := e.rule(name)
		if err != nil {
			return types.RuleSet{}, fmt.Errorf("pattern %s: %w", name, err)
		}
		set.Rules = append(set.Rules, r)
	}
	sort.Slice(set.Rules, func(i, j int) bool {
		return set.Rules[i].RuleName() < set.Rules[j].RuleName()
	})

	for name := range doc.Notifications {
		if !knownChannel(name) {
			return types.RuleSet{}, fmt.Errorf("unknown notification channel %q", name)
		}
	}
	for _, d := range channelDefaults {
		e := doc.Notifications[string(d.typ)]
		if !enabled(e.Enabled, d.enabled) {
			continue
		}
		ch, err := e.channel(d.typ, d.floor)
		if err != nil {
			return types.RuleSet{}, fmt.Errorf("notification %s: %w", d.typ, err)
		}
		set.Channels = append(set.Channels, ch)
	}
	return set, nil
}

func (e thresholdEntry) rule(name string) (types.ThresholdRule, error) {
	sev, err := severity(e.Severity, types.SeverityWarning)
	if err != nil {
		return types.ThresholdRule{}, err
	}
	if e.Metric == "" {
		return types.ThresholdRule{}, fmt.Errorf("metric is required")
	}
	op := types.OpGreaterThan
	if e.Operator != "" {
		if op, err = types.ParseOperator(e.Operator); err != nil {
			return types.ThresholdRule{}, err
		}
	}
	return types.ThresholdRule{
		Name:          name,
		Severity:      sev,
		Message:       e.Message,
		Metric:        e.Metric,
		Operator:      op,
		Value:         e.Value,
		DurationTurns: max(e.DurationTurns, 1),
	}, nil
}

func (e patternEntry) rule(name string) (types.PatternRule, error) {
	sev, err := severity(e.Severity, types.SeverityInfo)
	if err != nil {
		return types.PatternRule{}, err
	}
	kind := types.PatternKind(e.Pattern)
	switch kind {
	case types.PatternSameErrorMessage, types.PatternOperationStuck,
		types.PatternMemoryGrowth, types.PatternConsecutiveMatch:
	default:
		return types.PatternRule{}, fmt.Errorf("unknown pattern %q", e.Pattern)
	}
	r := types.PatternRule{
		Name:           name,
		Severity:       sev,
		Message:        e.Message,
		Kind:           kind,
		EventType:      e.EventType,
		WindowTurns:    e.WindowTurns,
		ThresholdCount: e.ThresholdCount,
		Metric:         e.Metric,
		Threshold:      e.Threshold,
		GrowthRate:     e.GrowthRate,
	}
	if r.WindowTurns <= 0 {
		r.WindowTurns = defaultWindowTurns
	}
	if r.ThresholdCount <= 0 {
		r.ThresholdCount = defaultThresholdCount
	}
	if e.Operator != "" {
		if r.Operator, err = types.ParseOperator(e.Operator); err != nil {
			return types.PatternRule{}, err
		}
	}
	return r, nil
}

func (e channelEntry) channel(typ types.ChannelType, floor types.Severity) (types.ChannelConfig, error) {
	sev, err := severity(e.MinSeverity, floor)
	if err != nil {
		return types.ChannelConfig{}, err
	}
	ch := types.ChannelConfig{
		Type:        typ,
		MinSeverity: sev,
		Path:        e.Path,
		Timeout:     e.Timeout,
		SMTPHost:    e.SMTPHost,
		SMTPPort:    e.SMTPPort,
		Username:    e.Username,
		Password:    e.Password,
		From:        e.From,
		To:          e.To,
		QueueURL:    e.QueueURL,
	}
	for _, ep := range e.Endpoints {
		ch.Endpoints = append(ch.Endpoints, string(ep))
	}
	switch typ {
	case types.ChannelFile:
		if ch.Path == "" {
			ch.Path = defaultAlertsLog
		}
	case types.ChannelWebhook:
		if ch.Timeout <= 0 {
			ch.Timeout = defaultWebhookTimeout
		}
		if len(ch.Endpoints) == 0 {
			return types.ChannelConfig{}, fmt.Errorf("at least one endpoint is required")
		}
	case types.ChannelEmail:
		if ch.SMTPHost == "" || len(ch.To) == 0 {
			return types.ChannelConfig{}, fmt.Errorf("smtp_host and to_addresses are required")
		}
	case types.ChannelSQS:
		if ch.QueueURL == "" {
			return types.ChannelConfig{}, fmt.Errorf("queue_url is required")
		}
	}
	return ch, nil
}

func severity(s string, def types.Severity) (types.Severity, error) {
	if s == "" {
		return def, nil
	}
	return types.ParseSeverity(s)
}

func enabled(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func knownChannel(name string) bool {
	for _, d := range channelDefaults {
		if string(d.typ) == name {
			return true
		}
	}
	return false
}
