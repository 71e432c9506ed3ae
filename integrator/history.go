package integrator

import (
	"gonum.org/v1/gonum/mat"
)

// History is the time sequence of states produced by a scalar run.
// Entry 0 is the initial condition. Entry t+1 is written once step t has
// completed and never changes afterwards.
type History struct {
	K       int
	data    []float64 // T*K, row t holds level t
	levels  int
	written int
}

func newHistory(T, K int, u0 []float64) *History {
	h := &History{
		K:      K,
		data:   make([]float64, T*K),
		levels: T,
	}
	copy(h.data[:K], u0)
	h.written = 1
	return h
}

// Len returns the number of levels the run will produce
func (h *History) Len() int {
	return h.levels
}

// Written returns the number of levels available for reading
func (h *History) Written() int {
	return h.written
}

// At returns level t, or nil when t has not been written. The returned
// slice aliases the history and must not be modified.
func (h *History) At(t int) []float64 {
	if t < 0 || t >= h.written {
		return nil
	}
	return h.data[t*h.K : (t+1)*h.K : (t+1)*h.K]
}

// Final returns the most recently written level
func (h *History) Final() []float64 {
	return h.At(h.written - 1)
}

// Matrix returns the written levels as a Written() x K matrix view
func (h *History) Matrix() *mat.Dense {
	return mat.NewDense(h.written, h.K, h.data[:h.written*h.K])
}

// next returns the storage for the next level
func (h *History) next() []float64 {
	t := h.written
	return h.data[t*h.K : (t+1)*h.K]
}

func (h *History) commit() {
	h.written++
}

// ChannelHistory is the synchronized history of a multi-channel run
type ChannelHistory struct {
	channels []*History
}

// NumChannels returns the channel count
func (ch *ChannelHistory) NumChannels() int {
	return len(ch.channels)
}

// Channel returns the scalar history of channel c
func (ch *ChannelHistory) Channel(c int) *History {
	return ch.channels[c]
}

// Len returns the number of levels the run will produce
func (ch *ChannelHistory) Len() int {
	return ch.channels[0].Len()
}

// Written returns the number of levels complete in every channel
func (ch *ChannelHistory) Written() int {
	w := ch.channels[0].Written()
	for _, h := range ch.channels[1:] {
		if h.Written() < w {
			w = h.Written()
		}
	}
	return w
}

// At returns level t as a freshly allocated K x C matrix, nil when unwritten
func (ch *ChannelHistory) At(t int) *mat.Dense {
	if t < 0 || t >= ch.Written() {
		return nil
	}
	u := mat.NewDense(ch.channels[0].K, len(ch.channels), nil)
	for c, h := range ch.channels {
		u.SetCol(c, h.At(t))
	}
	return u
}

// Final returns the last level complete in every channel
func (ch *ChannelHistory) Final() *mat.Dense {
	return ch.At(ch.Written() - 1)
}
