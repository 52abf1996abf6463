package models

// TrackingPayload is the fixed-schema record posted to the analytics
// endpoint. Every field is always present; unknown values are "".
type TrackingPayload struct {
	Timestamp   string `json:"timestamp"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
	UserAgent   string `json:"userAgent"`
	Language    string `json:"language"`
	Timezone    string `json:"timezone"`
	Screen      string `json:"screen"`
	PageTitle   string `json:"pageTitle"`
	IP          string `json:"ip"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
}

// GeoLocation is the transient result of the IP geolocation lookup.
type GeoLocation struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Visit pairs a transmitted payload with the browsing session it came from.
type Visit struct {
	SessionID string
	Payload   TrackingPayload
}
