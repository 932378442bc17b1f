package database

import (
	"context"
	"fmt"
	"time"
)

// PoolHealth is a point-in-time snapshot of connectivity and pool
// pressure for the episode store's backing database.
type PoolHealth struct {
	ResponseTime time.Duration
	InUse        int
	Idle         int
	MaxOpen      int
	Waits        int64
}

// Saturated reports whether every pool slot is handed out.
func (h PoolHealth) Saturated() bool {
	return h.MaxOpen > 0 && h.InUse >= h.MaxOpen
}

// String renders the snapshot the way the health endpoint reports it.
func (h PoolHealth) String() string {
	return fmt.Sprintf("ping %s, %d/%d connections in use, %d idle, %d waits",
		h.ResponseTime.Round(time.Millisecond), h.InUse, h.MaxOpen, h.Idle, h.Waits)
}

// CheckHealth pings the database and samples connection pool
// statistics. A failed ping returns the elapsed time alongside the
// error so slow failures are distinguishable from fast ones.
func (c *Client) CheckHealth(ctx context.Context) (PoolHealth, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return PoolHealth{ResponseTime: time.Since(start)}, fmt.Errorf("database ping: %w", err)
	}

	stats := c.db.Stats()
	return PoolHealth{
		ResponseTime: time.Since(start),
		InUse:        stats.InUse,
		Idle:         stats.Idle,
		MaxOpen:      stats.MaxOpenConnections,
		Waits:        stats.WaitCount,
	}, nil
}
