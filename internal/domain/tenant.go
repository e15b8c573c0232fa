package domain

import "time"

// Tenant represents one logical downstream connection identity sharing the
// connector process with others. The backend config is validated when the
// record enters the store, never after.
type Tenant struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Backend   BackendConfig `json:"backend"`
	Version   int64         `json:"version"` // bumped on every save, used for invalidation
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
