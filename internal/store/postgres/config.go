package postgres

import "time"

// StoreConfig holds behaviour shared by the PostgreSQL session and user stores.
// Pool configuration is handled separately via PoolConfig.
type StoreConfig struct {
	// QueryTimeout bounds every query issued by a store.
	// Default: 5 seconds
	QueryTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *StoreConfig) ApplyDefaults() {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
}
