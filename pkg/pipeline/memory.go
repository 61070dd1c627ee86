package pipeline

import "sync"

// Memory remembers processed outputs across runs so that incremental runs
// still see the whole set of files, like gulp-remember
type Memory struct {
	mu    sync.Mutex
	files map[string][]*File
}

// NewMemory creates an empty memory
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]*File)}
}

// Has reports whether outputs for a source are remembered
func (m *Memory) Has(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[source]
	return ok
}

// Remember stores outputs, replacing whatever was remembered for the same
// sources. Sources listed in processed with no outputs are remembered as
// producing nothing.
func (m *Memory) Remember(processed []string, outputs []*File) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, src := range processed {
		m.files[src] = nil
	}
	for _, f := range outputs {
		k := f.key()
		m.files[k] = append(m.files[k], f.Clone())
	}
}

// Retain forgets every source that is not in keep and returns how many
// were forgotten
func (m *Memory) Retain(keep []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]bool, len(keep))
	for _, k := range keep {
		set[k] = true
	}
	forgotten := 0
	for k := range m.files {
		if !set[k] {
			delete(m.files, k)
			forgotten++
		}
	}
	return forgotten
}

// Files returns remembered outputs following the given source order
func (m *Memory) Files(order []string) []*File {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*File
	for _, k := range order {
		for _, f := range m.files[k] {
			out = append(out, f.Clone())
		}
	}
	return out
}

// Clear forgets everything
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = make(map[string][]*File)
}
