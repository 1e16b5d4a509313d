package indexer

import (
	"encoding/json"
	"strconv"
	"strings"
)

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

// number converts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func num(v any) float64 {
	f, _ := number(v)
	return f
}

func mapOf(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// firstString returns the first non-empty string among keys of m.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// firstNumber returns the first numeric value among keys of m.
func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := number(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// pick looks for any of names in each section in order, then in flat.
func pick(flat map[string]any, sections []map[string]any, names ...string) float64 {
	for _, s := range sections {
		if f, ok := firstNumber(s, names...); ok {
			return f
		}
	}
	f, _ := firstNumber(flat, names...)
	return f
}

func encode(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
