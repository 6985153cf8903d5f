package feed

// eventRing is a fixed-size circular buffer of events. When full, a push
// overwrites the oldest event. It is not safe for concurrent use; Hub
// guards it with its own mutex.
type eventRing struct {
	buf  []Event
	head int // next write position
	full bool
}

func newEventRing(size int) *eventRing {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &eventRing{buf: make([]Event, size)}
}

func (r *eventRing) push(ev Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

func (r *eventRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

// snapshot returns the buffered events oldest first.
func (r *eventRing) snapshot() []Event {
	if !r.full {
		return append([]Event(nil), r.buf[:r.head]...)
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}
