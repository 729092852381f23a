// Package plan defines creator subscription plan records.
package plan

import "time"

// Plan is a creator-defined subscription offering. Amount is a decimal asset
// amount string with up to 7 decimal places.
type Plan struct {
	ID             int64
	CreatorAddress string
	CreatorName    string
	Name           string
	Description    string
	AssetCode      string
	AssetIssuer    string
	Amount         string
	IntervalDays   int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
