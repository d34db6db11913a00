package traffic

import (
	"net/url"
	"strings"
)

// Visitor types. Worker-reported bot hits are ai_bot; human visits that
// arrived from an AI assistant are ai_referral; everything else is direct.
const (
	VisitorAIBot      = "ai_bot"
	VisitorAIReferral = "ai_referral"
	VisitorDirect     = "direct"
)

// aiBotPatterns are matched case-insensitively against the user agent.
// The canonical casing is what gets stored as the bot name.
var aiBotPatterns = []string{
	"GPTBot",
	"PerplexityBot",
	"ClaudeBot",
	"anthropic-ai",
	"Googlebot",
	"Google-Extended",
	"Bingbot",
	"BingPreview",
	"FacebookBot",
	"Slackbot",
	"TwitterBot",
	"LinkedInBot",
	"WhatsApp",
	"facebookexternalhit",
}

// referrerSource groups the referrer hosts of one AI assistant. Order
// matters: the first match wins, so specific assistants come before the
// catch-all search engines.
type referrerSource struct {
	Source string
	Hosts  []string
}

var aiReferrerSources = []referrerSource{
	{"ChatGPT", []string{"chat.openai.com", "chatgpt.com", "openai.com/chat"}},
	{"Perplexity", []string{"perplexity.ai", "www.perplexity.ai"}},
	{"Claude", []string{"claude.ai", "anthropic.com/claude"}},
	{"Gemini", []string{"gemini.google.com", "bard.google.com"}},
	{"Bing", []string{"bing.com/chat", "bing.com/search"}},
	{"Google", []string{"google.com/search", "google.com"}},
}

// DetectBot returns the canonical bot name matched in the user agent, or
// "" when none matches.
func DetectBot(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := strings.ToLower(userAgent)
	for _, pattern := range aiBotPatterns {
		if strings.Contains(ua, strings.ToLower(pattern)) {
			return pattern
		}
	}
	return ""
}

// DetectAISource returns the AI assistant a referrer points at, or ""
// when the referrer is not recognized.
func DetectAISource(referrer string) string {
	if referrer == "" {
		return ""
	}
	ref := strings.ToLower(referrer)
	for _, src := range aiReferrerSources {
		for _, host := range src.Hosts {
			if strings.Contains(ref, host) {
				return src.Source
			}
		}
	}
	return ""
}

// ReferrerDomain extracts the host from a referrer URL, or "" when it
// does not parse.
func ReferrerDomain(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// Classify determines the visitor type from user agent and referrer.
// An explicit visitorType from a trusted reporter (the edge worker)
// takes precedence over re-detection.
func Classify(userAgent, referrer, reportedType string) (visitorType, botName, aiSource string) {
	botName = DetectBot(userAgent)
	aiSource = DetectAISource(referrer)

	switch {
	case reportedType == VisitorAIBot || botName != "":
		return VisitorAIBot, botName, aiSource
	case reportedType == VisitorAIReferral || aiSource != "":
		return VisitorAIReferral, botName, aiSource
	default:
		return VisitorDirect, botName, aiSource
	}
}
