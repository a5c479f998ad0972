// Package simnet simulates a group of communicating
// processes on a single machine using virtual time.
//
// Goroutines started through a Loop only advance the
// virtual clock while every one of them is blocked in
// Poll(), so computations take zero virtual time unless
// they explicitly Sleep().
package simnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// A Stream is a uni-directional channel of events owned
// by a single Loop.
type Stream struct {
	loop    *Loop
	pending []any
}

// An Event is a message delivered on some Stream.
type Event struct {
	Message any
	Stream  *Stream
}

// A Timer is a single delivery that will happen at a
// fixed point in the virtual future.
type Timer struct {
	time  float64
	event *Event
}

// Time gets the virtual time at which the timer fires.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is one goroutine's access point to a Loop.
// Handles must not be shared between goroutines.
type Handle struct {
	*Loop

	// Empty unless the goroutine is blocked in Poll.
	pollStreams []*Stream
	pollChan    chan<- *Event
}

// Poll blocks until an event arrives on any of the given
// streams and returns it.
func (h *Handle) Poll(streams ...*Stream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule arranges for msg to arrive on the stream after
// the given amount of virtual time.
func (h *Handle) Schedule(stream *Stream, msg any, delay float64) *Timer {
	if stream.loop != h.Loop {
		panic("Stream belongs to a different Loop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Sleep blocks until the given amount of virtual time has
// elapsed.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// A Loop schedules events for a set of goroutines that
// represent processes in a simulated system.
//
// All goroutines touching a Loop must be started with
// Loop.Go().
type Loop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewLoop creates a Loop with its clock at zero.
func NewLoop() *Loop {
	return &Loop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a Stream attached to the loop.
func (l *Loop) Stream() *Stream {
	return &Stream{loop: l}
}

// Go runs f in a new goroutine with its own Handle.
func (l *Loop) Go(f func(h *Handle)) {
	h := &Handle{Loop: l}
	l.lock.Lock()
	l.handles = append(l.handles, h)
	l.lock.Unlock()
	go func() {
		f(h)
		l.modifyHandles(func() {
			for i, handle := range l.handles {
				if handle == h {
					essentials.UnorderedDelete(&l.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
	}()
}

// Run drives the loop until every goroutine started with
// Go has returned.
//
// Run returns an error if the system deadlocks, i.e.
// every goroutine is polling and no timer is pending.
func (l *Loop) Run() error {
	l.lock.Lock()
	if l.running {
		l.lock.Unlock()
		panic("Loop is already running")
	}
	l.running = true
	l.lock.Unlock()

	defer func() {
		l.lock.Lock()
		l.running = false
		l.lock.Unlock()
	}()

	for range l.notifyCh {
		if shouldContinue, err := l.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but panics on deadlock.
func (l *Loop) MustRun() {
	if err := l.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (l *Loop) Time() float64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.time
}

// modify runs f while holding the loop state, assuming f
// cannot change which goroutines are runnable.
func (l *Loop) modify(f func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	f()
}

// modifyHandles is like modify, but wakes the loop up
// because f may have changed the scheduling state.
func (l *Loop) modifyHandles(f func()) {
	l.lock.Lock()
	defer func() {
		l.lock.Unlock()
		select {
		case l.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step fires the next timer, if any.
//
// The first return value is false once the loop should
// stop; the second reports a deadlock if there was one.
func (l *Loop) step() (bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if len(l.handles) == 0 {
		return false, nil
	}

	for _, h := range l.handles {
		if len(h.pollStreams) == 0 {
			// A goroutine is doing real-time work, so the
			// clock must not advance yet.
			return true, nil
		}
	}

	for len(l.timers) > 0 {
		// Shuffle so that timers with equal deadlines do
		// not fire in a deterministic order.
		indices := rand.Perm(len(l.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if l.timers[i].time < l.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := l.timers[minTimerIdx]

		essentials.UnorderedDelete(&l.timers, minTimerIdx)
		l.time = math.Max(l.time, timer.time)
		if l.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("deadlock: all handles are polling")
}

func (l *Loop) deliver(event *Event) bool {
	// Shuffle so that competing receivers do not win in a
	// deterministic order.
	indices := rand.Perm(len(l.handles))
	for _, i := range indices {
		h := l.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
