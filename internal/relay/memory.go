package relay

import "sync"

// Memory is an in-process stand-in for the hardware relay, selected by
// configuration for dry runs and used by tests. It records every power
// transition it is asked to make.
type Memory struct {
	mu      sync.Mutex
	powered bool
	history []bool
	failErr error
}

func NewMemory() *Memory {
	return &Memory{powered: true}
}

func (m *Memory) SetPower(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	m.powered = on
	m.history = append(m.history, on)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Powered reports the current simulated power state.
func (m *Memory) Powered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.powered
}

// History returns every SetPower value in order.
func (m *Memory) History() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]bool, len(m.history))
	copy(out, m.history)
	return out
}

// FailWith makes subsequent SetPower calls return err; nil restores
// normal behavior.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failErr = err
}
