package domain

import "time"

type User struct {
	ID           string
	Email        string // unique, stored lower-cased
	DisplayName  string
	PasswordHash string // argon2id PHC encoded
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
