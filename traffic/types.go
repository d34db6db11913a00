package traffic

// Visit is one recorded page hit: a bot crawl, an AI-referred human, or
// a direct visitor. The raw IP is hashed before it reaches this struct.
type Visit struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	PageID      string `json:"page_id,omitempty"`
	URL         string `json:"url"`
	VisitorType string `json:"visitor_type"`
	UserAgent   string `json:"user_agent,omitempty"`
	IPHash      string `json:"ip_hash,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	BotName     string `json:"bot_name,omitempty"`
	AISource    string `json:"ai_source,omitempty"`
	VisitedAt   int64  `json:"visited_at"`
}

// Conversion is one completed order attributed to its referrer.
type Conversion struct {
	ID              string  `json:"id"`
	ClientID        string  `json:"client_id"`
	PageID          string  `json:"page_id,omitempty"`
	OrderID         string  `json:"order_id"`
	EventType       string  `json:"event_type"`
	ConversionValue float64 `json:"conversion_value"`
	LandingURL      string  `json:"landing_url,omitempty"`
	ReferrerDomain  string  `json:"referrer_domain,omitempty"`
	ReferrerFullURL string  `json:"referrer_full_url,omitempty"`
	AISource        string  `json:"ai_source,omitempty"`
	ConvertedAt     int64   `json:"converted_at"`
}

// Summary aggregates a client's visits over a window.
type Summary struct {
	TotalVisits       int     `json:"total_visits"`
	BotCrawls         int     `json:"bot_crawls"`
	AIReferrals       int     `json:"ai_referrals"`
	DirectVisits      int     `json:"direct_visits"`
	BotCrawlPercent   float64 `json:"bot_crawl_percentage"`
	AIReferralPercent float64 `json:"ai_referral_percentage"`
}

// NameCount is one breakdown row (bot name, AI source, or page URL).
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DayCount is one bucket of the daily visit series.
type DayCount struct {
	Day       string `json:"day"`
	Visits    int    `json:"visits"`
	BotCrawls int    `json:"bot_crawls"`
}

// ConversionSummary aggregates a client's conversions over a window.
type ConversionSummary struct {
	TotalConversions int     `json:"total_conversions"`
	TotalRevenue     float64 `json:"total_revenue"`
	AIConversions    int     `json:"ai_conversions"`
	AIRevenue        float64 `json:"ai_revenue"`
}

// SourceRevenue is conversion volume and revenue for one AI source.
type SourceRevenue struct {
	AISource    string  `json:"ai_source"`
	Conversions int     `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}
