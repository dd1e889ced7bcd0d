package main

import (
	"sync"

	"github.com/speters/xbeed/xbee"
)

// frameHistory keeps the most recent received frames
type frameHistory struct {
	mu     sync.Mutex
	frames []xbee.Frame
	next   int
	full   bool
}

func newFrameHistory(size int) *frameHistory {
	return &frameHistory{frames: make([]xbee.Frame, size)}
}

func (h *frameHistory) Add(f xbee.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		return
	}
	h.frames[h.next] = f
	h.next = (h.next + 1) % len(h.frames)
	if h.next == 0 {
		h.full = true
	}
}

// List returns the frames oldest first
func (h *frameHistory) List() []xbee.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]xbee.Frame{}, h.frames[:h.next]...)
	}
	return append(append([]xbee.Frame{}, h.frames[h.next:]...), h.frames[:h.next]...)
}
