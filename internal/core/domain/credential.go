package domain

import "time"

type Credential struct {
	Token       string
	Fingerprint string
	ExpiresAt   *time.Time
}

func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
