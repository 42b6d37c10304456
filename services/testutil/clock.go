package testutil

import (
	"time"

	"apextrade-backend/pkg/clock"
)

// Epoch is the fixed start time used by service tests.
var Epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func NewClock() *clock.Fake {
	return clock.NewFake(Epoch)
}
