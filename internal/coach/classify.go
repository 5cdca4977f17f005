package coach

import (
	"strings"

	"github.com/vnmchuo/coach-gateway/internal/provider"
)

type RequestType string

const (
	Technical  RequestType = "technical"
	Psychology RequestType = "psychology"
	Education  RequestType = "education"
	General    RequestType = "general"
)

// RequestTypes lists every request type in a stable order.
func RequestTypes() []string {
	return []string{string(Technical), string(Psychology), string(Education), string(General)}
}

// ParseRequestType maps s onto a known type. Anything unknown, including
// the empty string, is General.
func ParseRequestType(s string) RequestType {
	switch t := RequestType(strings.ToLower(strings.TrimSpace(s))); t {
	case Technical, Psychology, Education:
		return t
	}
	return General
}

type routeRule struct {
	provider string
	types    []RequestType
	keywords []string
}

// First matching rule wins. Keywords match as substrings of the lowercased
// message, so "learning" matches "learn".
var routeRules = []routeRule{
	{
		provider: provider.Claude,
		types:    []RequestType{Psychology, Education},
		keywords: []string{
			"psychology", "mindset", "emotion", "stress", "discipline",
			"motivation", "learn", "explain", "understand", "coaching",
		},
	},
	{
		provider: provider.OpenAI,
		types:    []RequestType{Technical},
		keywords: []string{
			"technical", "chart", "indicator", "strategy", "analysis",
			"trade", "market", "price", "trend", "pattern",
		},
	},
}

const defaultProvider = provider.OpenAI

// Route picks the provider that answers req. It is pure and total.
func Route(req Request) string {
	t := ParseRequestType(string(req.RequestType))
	msg := strings.ToLower(req.Message)
	for _, rule := range routeRules {
		if rule.matches(t, msg) {
			return rule.provider
		}
	}
	return defaultProvider
}

func (r routeRule) matches(t RequestType, lowerMsg string) bool {
	for _, rt := range r.types {
		if t == rt {
			return true
		}
	}
	for _, kw := range r.keywords {
		if strings.Contains(lowerMsg, kw) {
			return true
		}
	}
	return false
}
