package service

import (
	"math/rand/v2"
	"time"
)

const MAX_HEARTBEAT_JITTER_SECONDS = 5

// Heartbeat is the poll interval. After a failed cycle it is lengthened by a random
// jitter of 1..5 seconds to move away from bus collisions, and restored after a clean cycle.
type Heartbeat struct {
	base    time.Duration
	current time.Duration
	jitter  func() int
}

func NewHeartbeat(base time.Duration) *Heartbeat {
	return &Heartbeat{
		base:    base,
		current: base,
		jitter: func() int {
			return 1 + rand.IntN(MAX_HEARTBEAT_JITTER_SECONDS)
		},
	}
}

func (h *Heartbeat) Failed() time.Duration {
	h.current = h.base + time.Duration(h.jitter())*time.Second
	return h.current
}

func (h *Heartbeat) Succeeded() time.Duration {
	h.current = h.base
	return h.current
}

func (h *Heartbeat) Current() time.Duration {
	return h.current
}

func (h *Heartbeat) Base() time.Duration {
	return h.base
}
