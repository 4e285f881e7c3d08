package api

import (
	"sync"
	"time"
)

// createLimiter is a sliding one-minute window over pickup creations, per
// requester and across all requesters. A zero max disables that bound.
type createLimiter struct {
	mu              sync.Mutex
	perRequesterMax int
	globalMax       int
	window          time.Duration
	requesters      map[string][]int64
	global          []int64
}

func newCreateLimiter(perRequester, global int) *createLimiter {
	if perRequester < 0 {
		perRequester = 0
	}
	if global < 0 {
		global = 0
	}
	return &createLimiter{
		perRequesterMax: perRequester,
		globalMax:       global,
		window:          time.Minute,
		requesters:      map[string][]int64{},
		global:          make([]int64, 0, 256),
	}
}

func (l *createLimiter) allow(requesterID string, now time.Time) bool {
	if l == nil || (l.perRequesterMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().UnixMilli()
	cutoff := ts - l.window.Milliseconds()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}
	history := trimCutoff(l.requesters[requesterID], cutoff)
	if l.perRequesterMax > 0 && len(history) >= l.perRequesterMax {
		l.requesters[requesterID] = history
		return false
	}
	l.requesters[requesterID] = append(history, ts)
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}
