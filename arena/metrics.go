package arena

// SlotMetrics describes one stack slot.
type SlotMetrics struct {
	Index  int
	Base   Addr
	Limit  Addr
	Canary Addr
	Intact bool
	// HighWater is the number of words ever written below the canary, as far
	// as a scan for the highest non-zero word can tell.
	HighWater int
}

// Metrics is a snapshot of the arena's shape and slot health.
type Metrics struct {
	Base       Addr
	TotalBytes int
	DataBytes  int
	StackBytes int
	Slots      []SlotMetrics
}

// HighWater returns how many words of slot i appear to have been used.
func (a *Arena) HighWater(i int) int {
	s := a.Slot(i)
	for j := len(s) - 2; j >= 0; j-- {
		if s[j] != 0 {
			return j + 1
		}
	}
	return 0
}

// Metrics returns a snapshot of arena statistics.
func (a *Arena) Metrics() Metrics {
	l := a.layout
	m := Metrics{
		Base:       a.base,
		TotalBytes: l.Words() * WordSize,
		DataBytes:  l.DataWords * WordSize,
		StackBytes: l.StackWords * WordSize,
		Slots:      make([]SlotMetrics, l.Threads),
	}
	for i := range m.Slots {
		m.Slots[i] = SlotMetrics{
			Index:     i,
			Base:      a.SlotBase(i),
			Limit:     a.SlotLimit(i),
			Canary:    l.CanaryAddr(a.base, i),
			Intact:    a.Intact(i),
			HighWater: a.HighWater(i),
		}
	}
	return m
}
