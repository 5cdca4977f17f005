package coach

import (
	"strings"

	"github.com/vnmchuo/coach-gateway/internal/provider"
)

const openAIBasePrompt = `You are EdgeBot, a professional trading AI assistant specializing in technical analysis and trading strategies. You provide precise, actionable trading insights for serious traders.

Key capabilities:
- Technical analysis and chart pattern recognition
- Trading strategy development and optimization
- Market trend analysis and forecasting
- Risk management and position sizing
- Real-time market insights and alerts

Style: Professional, direct, data-driven. Focus on actionable insights with specific entry/exit points when relevant.`

const claudeBasePrompt = `You are EdgeBot, a professional trading psychology coach and educator. You help traders develop the mental discipline and emotional control needed for consistent profitability.

Key capabilities:
- Trading psychology and mindset coaching
- Emotional regulation and stress management
- Educational content on trading concepts
- Habit formation and discipline building
- Performance analysis and improvement strategies

Style: Supportive yet professional, insightful, focuses on long-term trader development.`

var promptFocus = map[string]map[RequestType]string{
	provider.OpenAI: {
		Technical: "Technical indicators, chart patterns, price action analysis, and specific trading setups.",
	},
	provider.Claude: {
		Psychology: "Emotional control, psychological barriers, mindset development, and mental performance optimization.",
		Education:  "Clear explanations, educational content, concept clarification, and learning path guidance.",
	},
}

// SystemPrompt returns the fixed system prompt for a provider and request
// type.
func SystemPrompt(providerName string, t RequestType) string {
	base := openAIBasePrompt
	if providerName == provider.Claude {
		base = claudeBasePrompt
	}
	if focus, ok := promptFocus[providerName][t]; ok {
		return base + "\n\nFocus on: " + focus
	}
	return base
}

// UserPrompt is the message sent as the user turn. Optional context from
// the dashboard is appended as its own section.
func UserPrompt(message, context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return message
	}
	return message + "\n\nContext:\n" + context
}
