// Package recorders implements the per-dimension accumulators living inside
// an indicator for one hour bucket.
package recorders

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
)

const (
	slotMinutes = 10
	maxSlots    = 6

	// maxUsageWidth is the widest input spread a usage recorder tolerates.
	// A recorder covers at most one hour; anything wider indicates a logic
	// bug upstream.
	maxUsageWidth = 62
)

// TooWideUsageError reports inputs spanning more than maxUsageWidth minutes
// inside one usage recorder.
type TooWideUsageError struct {
	Minutes int
}

func (e *TooWideUsageError) Error() string {
	return fmt.Sprintf("usage recorder received inputs %d minutes apart (max %d)", e.Minutes, maxUsageWidth)
}

// WrongInputTypeError reports an input kind the recorder does not support.
type WrongInputTypeError struct {
	Input inputs.Input
}

func (e *WrongInputTypeError) Error() string {
	return fmt.Sprintf("recorder received unsupported input %T", e.Input)
}

// Recorder processes inputs for one (indicator, dimension) pair, exposes an
// integer value and a serialized state, and can be restored from that state.
type Recorder interface {
	Process(in inputs.Input) error
	Value() int64

	State() string
	RestoreState(state string) error
}

// IntCounter counts inputs. SharedFilesOperation inputs add their carried
// count; everything else adds one.
type IntCounter struct {
	n int64
}

func NewIntCounter() *IntCounter {
	return &IntCounter{}
}

func (r *IntCounter) Process(in inputs.Input) error {
	if op, ok := in.(inputs.SharedFilesOperation); ok {
		r.n += op.Count
		return nil
	}
	r.n++
	return nil
}

func (r *IntCounter) Value() int64 {
	return r.n
}

func (r *IntCounter) State() string {
	return strconv.FormatInt(r.n, 10)
}

func (r *IntCounter) RestoreState(state string) error {
	n, err := strconv.ParseInt(state, 10, 64)
	if err != nil {
		return fmt.Errorf("restore int counter state %q: %w", state, err)
	}
	r.n = n
	return nil
}

// Usage answers "how many 10-minute slots had at least one request?" within
// one hour. It tracks the start minute of every active slot; value is
// slot count times ten. Only inputs carrying a timestamp are accepted.
type Usage struct {
	starts []int
}

func NewUsage() *Usage {
	return &Usage{}
}

func (r *Usage) Process(in inputs.Input) error {
	req, ok := in.(inputs.PackageRequest)
	if !ok {
		return &WrongInputTypeError{Input: in}
	}

	m := int(req.Ts.Unix() / 60)
	if len(r.starts) == 0 {
		r.starts = append(r.starts, m)
		return nil
	}

	base := r.starts[0]
	width := m - base
	if width > maxUsageWidth {
		return &TooWideUsageError{Minutes: width}
	}

	var start int
	if width >= maxSlots*slotMinutes {
		// Clamp into the last slot so the six-slot cap holds.
		start = base + (maxSlots-1)*slotMinutes
	} else {
		// Start of the slot containing m, aligned to the first input.
		start = m - mod(m-base, slotMinutes)
	}

	for _, s := range r.starts {
		if s == start {
			return nil
		}
	}
	r.starts = append(r.starts, start)
	return nil
}

// mod is the floored modulo; Go's % truncates toward zero, which would
// misalign slots for same-hour inputs arriving out of order.
func mod(a, b int) int {
	return ((a % b) + b) % b
}

func (r *Usage) Value() int64 {
	return int64(len(r.starts) * slotMinutes)
}

func (r *Usage) State() string {
	parts := make([]string, len(r.starts))
	for i, s := range r.starts {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

func (r *Usage) RestoreState(state string) error {
	r.starts = r.starts[:0]
	if state == "" {
		return nil
	}
	for _, part := range strings.Split(state, ",") {
		s, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("restore usage state %q: %w", state, err)
		}
		r.starts = append(r.starts, s)
	}
	return nil
}
