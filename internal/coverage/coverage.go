// Package coverage implements the coverage algebra of spec §4.C: an ordered
// sequence of per-module offset sets with union, difference, intersection,
// containment and binary (de)serialization.
//
// The algebra mirrors syzkaller's pkg/signal.Signal (a flat offset->prio
// map with Merge/Diff/Intersection), generalized to carry a module name per
// offset set since this engine's coverage instrumentation can span several
// independently-loaded modules.
package coverage

// ModuleCoverage is the offset set observed for a single module.
type ModuleCoverage struct {
	Module  string
	Offsets map[uint64]struct{}
}

// Coverage is an ordered sequence of ModuleCoverage; module names are unique
// within a Coverage. The empty Coverage is the additive identity under
// Merge.
type Coverage struct {
	modules []*ModuleCoverage
	index   map[string]*ModuleCoverage
}

// New returns an empty Coverage.
func New() *Coverage {
	return &Coverage{index: make(map[string]*ModuleCoverage)}
}

// Modules returns the module coverage entries in insertion order. Callers
// must not mutate the returned slice's Offsets maps directly.
func (c *Coverage) Modules() []*ModuleCoverage {
	return c.modules
}

// Empty reports whether c has no offsets in any module.
func (c *Coverage) Empty() bool {
	for _, m := range c.modules {
		if len(m.Offsets) > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of (module, offset) pairs.
func (c *Coverage) Len() int {
	n := 0
	for _, m := range c.modules {
		n += len(m.Offsets)
	}
	return n
}

// GetModuleCoverage returns the ModuleCoverage for name, or nil if absent.
func (c *Coverage) GetModuleCoverage(name string) *ModuleCoverage {
	return c.index[name]
}

func (c *Coverage) getOrCreate(name string) *ModuleCoverage {
	if m, ok := c.index[name]; ok {
		return m
	}
	m := &ModuleCoverage{Module: name, Offsets: make(map[uint64]struct{})}
	c.modules = append(c.modules, m)
	c.index[name] = m
	return m
}

// Add inserts a single (module, offset) pair.
func (c *Coverage) Add(module string, offset uint64) {
	c.getOrCreate(module).Offsets[offset] = struct{}{}
}

// AddRaw inserts every offset in offsets under module.
func (c *Coverage) AddRaw(module string, offsets []uint64) {
	if len(offsets) == 0 {
		return
	}
	m := c.getOrCreate(module)
	for _, o := range offsets {
		m.Offsets[o] = struct{}{}
	}
}

// Clone returns a deep copy of c.
func (c *Coverage) Clone() *Coverage {
	out := New()
	for _, m := range c.modules {
		om := out.getOrCreate(m.Module)
		for o := range m.Offsets {
			om.Offsets[o] = struct{}{}
		}
	}
	return out
}

// Merge computes the union into, into |= src, without mutating src.
func Merge(into, src *Coverage) {
	for _, sm := range src.modules {
		im := into.getOrCreate(sm.Module)
		for o := range sm.Offsets {
			im.Offsets[o] = struct{}{}
		}
	}
}

// Difference computes out = b \ a (offsets in b but not in a), for every
// module present in b. It does not mutate a or b.
func Difference(a, b *Coverage) *Coverage {
	out := New()
	for _, bm := range b.modules {
		am := a.index[bm.Module]
		for o := range bm.Offsets {
			if am != nil {
				if _, ok := am.Offsets[o]; ok {
					continue
				}
			}
			out.Add(bm.Module, o)
		}
	}
	return out
}

// Intersection computes a ∩ b.
func Intersection(a, b *Coverage) *Coverage {
	out := New()
	// Iterate the smaller side's modules for a minor efficiency win; result
	// is identical either way.
	small, big := a, b
	if len(b.modules) < len(a.modules) {
		small, big = b, a
	}
	for _, sm := range small.modules {
		bm := big.index[sm.Module]
		if bm == nil {
			continue
		}
		for o := range sm.Offsets {
			if _, ok := bm.Offsets[o]; ok {
				out.Add(sm.Module, o)
			}
		}
	}
	return out
}

// Contains reports whether a ⊇ b, i.e. Difference(a, b) is empty.
func Contains(a, b *Coverage) bool {
	for _, bm := range b.modules {
		am := a.index[bm.Module]
		if am == nil {
			if len(bm.Offsets) > 0 {
				return false
			}
			continue
		}
		for o := range bm.Offsets {
			if _, ok := am.Offsets[o]; !ok {
				return false
			}
		}
	}
	return true
}

// Equal reports whether a and b hold the same (module, offset) pairs.
func Equal(a, b *Coverage) bool {
	return Contains(a, b) && Contains(b, a)
}
