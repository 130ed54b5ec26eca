package domain

import "time"

// Owner is the single authenticated principal of the CRM.
type Owner struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}
