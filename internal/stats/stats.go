// Package stats provides prometheus-style named counters for instrumenting
// the engine, modeled on syzkaller's pkg/stat: a Val type wrapping an
// atomic counter with optional Prometheus registration, and a Registry
// that a status HTTP handler renders as a snapshot.
//
// Unlike pkg/stat, this package does not keep a compressed history of
// samples for time-series graphs — spec.md has no notion of a graphing UI,
// only a periodic status view, so the tick/compress machinery pkg/stat
// uses for its web graphs is dropped (see DESIGN.md).
package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Val is a single named counter or gauge.
type Val struct {
	name string
	desc string
	val  atomic.Uint64
	ext  func() uint64
}

// Add increments the counter by delta. Panics if the Val was created with
// an External source, mirroring pkg/stat's Val.Add.
func (v *Val) Add(delta uint64) {
	if v.ext != nil {
		panic(fmt.Sprintf("stats: %s is externally sourced, cannot Add", v.name))
	}
	v.val.Add(delta)
}

// Set stores an absolute value, overwriting whatever was there.
func (v *Val) Set(value uint64) {
	if v.ext != nil {
		panic(fmt.Sprintf("stats: %s is externally sourced, cannot Set", v.name))
	}
	v.val.Store(value)
}

// Value reads the current value, either the stored counter or, for an
// externally-sourced Val, the live result of calling its source function.
func (v *Val) Value() uint64 {
	if v.ext != nil {
		return v.ext()
	}
	return v.val.Load()
}

// External sources a Val's value from fn instead of an internal counter,
// e.g. LenOf(queue) for a live queue-depth gauge.
type External func() uint64

// Prometheus registers the Val under the given metric name, exported as a
// prometheus GaugeFunc.
type Prometheus string

// Registry is a named collection of Vals, used to render a status snapshot.
type Registry struct {
	mu   sync.Mutex
	vals map[string]*Val
	order []*Val
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{vals: make(map[string]*Val)}
}

// New registers and returns a new Val. opts may include an External source
// and/or a Prometheus export name.
func (r *Registry) New(name, desc string, opts ...any) *Val {
	v := &Val{name: name, desc: desc}
	for _, o := range opts {
		switch opt := o.(type) {
		case External:
			v.ext = opt
		case Prometheus:
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: string(opt), Help: desc},
				func() float64 { return float64(v.Value()) },
			))
		default:
			panic(fmt.Sprintf("stats: unknown option %#v", o))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals[name] = v
	r.order = append(r.order, v)
	return v
}

// Snapshot is a point-in-time rendering of one Val.
type Snapshot struct {
	Name  string
	Desc  string
	Value uint64
}

// Collect returns the current value of every registered Val, sorted by
// name.
func (r *Registry) Collect() []Snapshot {
	r.mu.Lock()
	vals := append([]*Val(nil), r.order...)
	r.mu.Unlock()

	out := make([]Snapshot, len(vals))
	for i, v := range vals {
		out[i] = Snapshot{Name: v.name, Desc: v.desc, Value: v.Value()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Global is the default registry engines register their counters against,
// mirroring pkg/stat's package-level New/Collect over a global set.
var Global = NewRegistry()

func New(name, desc string, opts ...any) *Val { return Global.New(name, desc, opts...) }
func Collect() []Snapshot                     { return Global.Collect() }
