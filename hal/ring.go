package hal

// ring is a fixed-capacity byte queue. Its storage is allocated once.
type ring struct {
	head uint32
	tail uint32
	buf  []byte
}

func newRing(size int) ring {
	return ring{buf: make([]byte, size)}
}

func (r *ring) len() int  { return int(r.head - r.tail) }
func (r *ring) free() int { return len(r.buf) - r.len() }

// push copies as much of p as fits and returns the count.
func (r *ring) push(p []byte) int {
	n := 0
	for n < len(p) && r.free() > 0 {
		r.buf[r.head%uint32(len(r.buf))] = p[n]
		r.head++
		n++
	}
	return n
}

// pop moves up to len(p) bytes out of the ring.
func (r *ring) pop(p []byte) int {
	n := 0
	for n < len(p) && r.tail != r.head {
		p[n] = r.buf[r.tail%uint32(len(r.buf))]
		r.tail++
		n++
	}
	return n
}
