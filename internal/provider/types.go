package provider

import "time"

// BounceType classifies a bounce event.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// BounceEvent is one bounce reported by the provider for a sent campaign.
type BounceEvent struct {
	ContactID string     `json:"contactId"`
	Type      BounceType `json:"type"`
	Reason    string     `json:"reason"`
}

// DeliveryMetrics are the aggregate delivery numbers for a sent campaign.
type DeliveryMetrics struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Bounced   int `json:"bounced"`
}

// ListContact is one contact's membership record in a provider list.
// AddedAt drives the rebalancer's most-recently-added-first move ordering.
type ListContact struct {
	ContactID string    `json:"contactId"`
	AddedAt   time.Time `json:"addedAt"`
}
