// Package journal records the policy and app changes made by cascading
// deletes so operators can see what a partially completed run changed.
package journal

import (
	"context"
	"time"
)

// Actions recorded in the journal.
const (
	ActionRuleUpdated  = "updated"
	ActionRuleDeleted  = "deleted"
	ActionManualReview = "requires_manual_review"
	ActionFailed       = "failed"
	ActionAppDeleted   = "app_deleted"
)

// Entry is one recorded change.
type Entry struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id"`
	AppID       int       `json:"app_id"`
	AppName     string    `json:"app_name"`
	PolicyID    int       `json:"policy_id,omitempty"`
	PolicyName  string    `json:"policy_name,omitempty"`
	Action      string    `json:"action"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	AppID       int
	OperationID string
	Limit       int
}

// DefaultListLimit caps List when Filter.Limit is zero.
const DefaultListLimit = 100

// Store persists journal entries.
type Store interface {
	// Initialize opens the store at path.
	Initialize(path string) error

	// Close closes the store and releases any resources.
	Close() error

	// Record appends an entry.
	Record(ctx context.Context, entry Entry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
