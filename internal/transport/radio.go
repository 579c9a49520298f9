package transport

import "sync"

// RadioState is a boolean-valued observable for the Bluetooth radio.
// Subscribers get the latest value on subscribe and on every change;
// intermediate values may be dropped (latest-value-wins).
type RadioState struct {
	mu    sync.Mutex
	on    bool
	known bool
	subs  map[chan bool]struct{}
}

func NewRadioState() *RadioState {
	return &RadioState{subs: make(map[chan bool]struct{})}
}

// On reports the last observed radio state.
func (r *RadioState) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Subscribe returns a channel carrying state changes and a cancel
// function. The channel has a one-slot buffer; a pending unread value
// is replaced rather than blocking the publisher.
func (r *RadioState) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	if r.known {
		ch <- r.on
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *RadioState) publish(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known && r.on == on {
		return
	}
	r.on = on
	r.known = true
	for ch := range r.subs {
		select {
		case ch <- on:
		default:
			// drop the stale pending value, keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- on
		}
	}
}
