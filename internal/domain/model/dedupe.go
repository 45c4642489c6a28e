package model

import "time"

// SuggestedAction is the dedupe recommendation for an incoming record.
type SuggestedAction string

const (
	SuggestCreateNew SuggestedAction = "create_new"
	SuggestMergeWith SuggestedAction = "merge_with"
	SuggestReview    SuggestedAction = "review"
)

// Match is one existing record scored against the incoming item.
type Match struct {
	RecordID  string   `json:"record_id"`
	Score     float64  `json:"score"`
	MatchedOn []string `json:"matched_on"`
}

// DedupeResult is the matching subsystem's answer for one item.
type DedupeResult struct {
	Matches         []Match         `json:"matches"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	// CanonicalID is set when SuggestedAction is merge_with.
	CanonicalID *string `json:"canonical_id"`
}

// MatchKeys are the normalized lookup keys derived from an incoming item.
type MatchKeys struct {
	Email      string
	Phone      string
	AddressKey string
	NameKey    string
}

// Empty reports whether no key is available for lookup.
func (k MatchKeys) Empty() bool {
	return k.Email == "" && k.Phone == "" && k.AddressKey == "" && k.NameKey == ""
}

// CustomerRecord is an existing tenant customer considered for matching.
type CustomerRecord struct {
	ID         string    `json:"id"          db:"id"`
	TenantID   string    `json:"tenant_id"   db:"tenant_id"`
	Email      string    `json:"email"       db:"email_normalized"`
	Phone      string    `json:"phone"       db:"phone_normalized"`
	AddressKey string    `json:"address_key" db:"address_key"`
	NameKey    string    `json:"name_key"    db:"name_key"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
