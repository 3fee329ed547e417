package domain

import "time"

// Role ids are embedded in access tokens, they are small integers on purpose.
type Role struct {
	ID        int
	Name      string
	CreatedAt time.Time
}
