package blockdev

import "sync"

// Memory is an in-memory Device. Unwritten blocks read as zeroes.
type Memory struct {
	mu     sync.Mutex
	size   int64
	blocks map[int64][]byte

	failReads  bool
	failWrites bool
	// writeBudget, when non-negative, is the number of writes that will
	// still succeed before every further write fails.
	writeBudget int
	writes      int
	flushes     int
}

// NewMemory returns a zeroed device of size bytes.
func NewMemory(size int64) *Memory {
	return &Memory{size: size, blocks: make(map[int64][]byte), writeBudget: -1}
}

// ReadBlock implements Device.
func (m *Memory) ReadBlock(n int64, p []byte) error {
	if err := checkTransfer(m, n, p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return ErrInjected
	}
	if b, ok := m.blocks[n]; ok {
		copy(p, b)
	} else {
		clear(p)
	}
	return nil
}

// WriteBlock implements Device.
func (m *Memory) WriteBlock(n int64, p []byte) error {
	if err := checkTransfer(m, n, p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites || m.writeBudget == 0 {
		return ErrInjected
	}
	if m.writeBudget > 0 {
		m.writeBudget--
	}
	b, ok := m.blocks[n]
	if !ok {
		b = make([]byte, BlockSize)
		m.blocks[n] = b
	}
	copy(b, p)
	m.writes++
	return nil
}

// Flush implements Device.
func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrInjected
	}
	m.flushes++
	return nil
}

// Size implements Device.
func (m *Memory) Size() int64 { return m.size }

// Close implements Device. The contents stay available.
func (m *Memory) Close() error { return nil }

// FailReads makes every following read fail, or succeed again.
func (m *Memory) FailReads(fail bool) {
	m.mu.Lock()
	m.failReads = fail
	m.mu.Unlock()
}

// FailWrites makes every following write and flush fail, or succeed again.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	m.failWrites = fail
	m.writeBudget = -1
	m.mu.Unlock()
}

// FailAfter lets n more writes through and fails the rest.
func (m *Memory) FailAfter(n int) {
	m.mu.Lock()
	m.writeBudget = n
	m.mu.Unlock()
}

// Writes returns the number of successful block writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Flushes returns the number of successful flushes.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Snapshot returns an independent copy of the device, as it would be found
// after a power loss at this instant.
func (m *Memory) Snapshot() *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := NewMemory(m.size)
	for n, b := range m.blocks {
		c.blocks[n] = append([]byte(nil), b...)
	}
	return c
}
