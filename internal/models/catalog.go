package models

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// VerifyCatalog checks that the loader can serve every scale above 1×. The
// result maps each unavailable scale to its error. Those scales are recorded:
// until Reset or a later VerifyCatalog finds them, Acquire serves them with
// the fallback and does not count a failure. Loaders that cannot probe are
// assumed to serve everything.
func (m *Manager) VerifyCatalog(ctx context.Context, scales []int) map[int]error {
	missing := make(map[int]error)
	p, ok := m.loader.(Prober)
	if !ok {
		return missing
	}

	sorted := append([]int(nil), scales...)
	sort.Ints(sorted)
	for _, s := range sorted {
		if s <= 1 {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
		err := p.Probe(pctx, s)
		cancel()
		m.mu.Lock()
		if err != nil {
			m.unavailable[s] = fmt.Sprintf("x%d model not in catalog: %v", s, err)
		} else {
			delete(m.unavailable, s)
		}
		m.mu.Unlock()
		if err != nil {
			missing[s] = err
			m.emit(zerolog.WarnLevel, "catalog_missing", s, map[string]any{"error": err.Error()})
			continue
		}
		m.emit(zerolog.DebugLevel, "catalog_ok", s, nil)
	}
	return missing
}
