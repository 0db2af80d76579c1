package models

import (
	"slices"
	"time"
)

// MaxURLLength bounds stored referrer and landing URLs
const MaxURLLength = 500

// UTMData holds captured campaign parameters
type UTMData struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// IsZero reports whether no parameter was captured
func (u UTMData) IsZero() bool {
	return u == UTMData{}
}

// Click is an immutable tracked visit through an affiliate link.
// IsUnique is decided once at insert time.
type Click struct {
	ID           string    `json:"id"`
	ProgramID    string    `json:"program_id"`
	LinkID       string    `json:"link_id"`
	AffiliateID  string    `json:"affiliate_id"`
	OfferID      string    `json:"offer_id"`
	IPHash       string    `json:"ip_hash"`
	UAHash       string    `json:"ua_hash"`
	Referrer     string    `json:"referrer,omitempty"`
	LandingURL   string    `json:"landing_url,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	CookieID     string    `json:"cookie_id,omitempty"`
	SubscriberID string    `json:"subscriber_id,omitempty"`
	UTM          UTMData   `json:"utm"`
	IsUnique     bool      `json:"is_unique"`
	CreatedAt    time.Time `json:"created_at"`
}

// VisitorKeys identifies the visitor a conversion came from
type VisitorKeys struct {
	CookieIDs     []string
	SessionIDs    []string
	SubscriberIDs []string
}

// Empty reports whether no key is set
func (k VisitorKeys) Empty() bool {
	return len(k.CookieIDs) == 0 && len(k.SessionIDs) == 0 && len(k.SubscriberIDs) == 0
}

// Merge appends other's keys, skipping duplicates
func (k VisitorKeys) Merge(other VisitorKeys) VisitorKeys {
	return VisitorKeys{
		CookieIDs:     appendUnique(k.CookieIDs, other.CookieIDs...),
		SessionIDs:    appendUnique(k.SessionIDs, other.SessionIDs...),
		SubscriberIDs: appendUnique(k.SubscriberIDs, other.SubscriberIDs...),
	}
}

func appendUnique(dst []string, values ...string) []string {
	out := append([]string(nil), dst...)
	for _, v := range values {
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
