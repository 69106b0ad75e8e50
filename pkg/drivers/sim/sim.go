// Package sim is a deterministic simulated cloud. It accepts every resource
// spec the builders emit, reports provider-shaped raw outputs and supports
// fault injection for exercising retries and partial failures.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Operation names recorded for each driver call.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpRead   = "read"
)

// Call is one recorded driver call.
type Call struct {
	Op string
	ID string
}

// Fault makes calls for one resource fail.
type Fault struct {
	// Transient fails the next N calls with a retryable error.
	Transient int

	// Throttled fails the next N calls with a throttling error.
	Throttled int

	// ValidationField rejects every call, naming the attribute at fault.
	ValidationField string

	// Ops limits the fault to these operations. Empty means every mutation.
	Ops []string
}

func (f *Fault) applies(op string) bool {
	if len(f.Ops) == 0 {
		return op != OpRead
	}
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Hook runs before each call and may fail it.
type Hook func(ctx context.Context, op, id string) error

// Driver is the simulated cloud.
type Driver struct {
	// mu protects the fields below.
	mu sync.Mutex

	resources map[string]*engine.ResourceSpec
	vanished  map[string]bool
	faults    map[string]*Fault
	calls     []Call
	hook      Hook
	latency   time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithLatency delays every mutation by d, honoring cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Driver) { s.latency = d }
}

// WithHook installs a hook that runs before every call.
func WithHook(h Hook) Option {
	return func(s *Driver) { s.hook = h }
}

// New creates a simulated cloud.
func New(opts ...Option) *Driver {
	d := &Driver{
		resources: make(map[string]*engine.ResourceSpec),
		vanished:  make(map[string]bool),
		faults:    make(map[string]*Fault),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inject installs a fault for resource id, replacing any previous one.
func (d *Driver) Inject(id string, f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[id] = &f
}

// Vanish marks a resource as deleted out of band, so Read reports it gone.
func (d *Driver) Vanish(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.resources, id)
	d.vanished[id] = true
}

// Calls returns the recorded calls in order.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount returns how often op was called for id.
func (d *Driver) CallCount(op, id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op && c.ID == id {
			n++
		}
	}
	return n
}

// Exists reports whether the simulated cloud holds resource id.
func (d *Driver) Exists(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.resources[id]
	return ok
}

// Create implements engine.Driver.
func (d *Driver) Create(ctx context.Context, spec *engine.ResourceSpec) (*engine.ProviderResult, error) {
	if err := d.begin(ctx, OpCreate, spec.ID); err != nil {
		return nil, err
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	d.store(spec)
	return result(spec), nil
}

// Update implements engine.Driver.
func (d *Driver) Update(ctx context.Context, spec *engine.ResourceSpec, _ *engine.ResourceState) (*engine.ProviderResult, error) {
	if err := d.begin(ctx, OpUpdate, spec.ID); err != nil {
		return nil, err
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	d.store(spec)
	return result(spec), nil
}

// Delete implements engine.Driver. Deleting a missing resource succeeds.
func (d *Driver) Delete(ctx context.Context, prior *engine.ResourceState) error {
	if err := d.begin(ctx, OpDelete, prior.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.resources, prior.ID)
	return nil
}

// Read implements engine.Reader. Resources the simulator has not seen in
// this process are assumed to exist as recorded, unless marked vanished.
func (d *Driver) Read(ctx context.Context, prior *engine.ResourceState) (*engine.ResourceState, error) {
	if err := d.begin(ctx, OpRead, prior.ID); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vanished[prior.ID] {
		return nil, nil
	}
	live := *prior
	if spec, ok := d.resources[prior.ID]; ok {
		live.Attributes = spec.Attributes
		live.Outputs = rawOutputs(spec)
	}
	return &live, nil
}

func (d *Driver) begin(ctx context.Context, op, id string) error {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Op: op, ID: id})
	hook := d.hook
	latency := d.latency
	err := d.fault(op, id)
	d.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, op, id); herr != nil {
			return herr
		}
	}
	if err != nil {
		return err
	}
	if latency > 0 && op != OpRead {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return engine.NewTransientError(fmt.Sprintf("%s %s interrupted", op, id), ctx.Err()).
				WithResource(id).WithCode(engine.ErrCodeTimeout)
		}
	}
	return nil
}

// fault consumes one injected failure. Callers hold d.mu.
func (d *Driver) fault(op, id string) error {
	f, ok := d.faults[id]
	if !ok || !f.applies(op) {
		return nil
	}
	switch {
	case f.ValidationField != "":
		return engine.NewProviderValidationError(id, f.ValidationField,
			fmt.Sprintf("simulated provider rejected %s", f.ValidationField), nil)
	case f.Throttled > 0:
		f.Throttled--
		return engine.NewThrottledError(fmt.Sprintf("simulated throttling on %s %s", op, id), nil).WithResource(id)
	case f.Transient > 0:
		f.Transient--
		return engine.NewTransientError(fmt.Sprintf("simulated outage on %s %s", op, id), nil).WithResource(id)
	}
	return nil
}

func (d *Driver) store(spec *engine.ResourceSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resources[spec.ID] = spec
	delete(d.vanished, spec.ID)
}

func result(spec *engine.ResourceSpec) *engine.ProviderResult {
	return &engine.ProviderResult{
		ProviderIDs: map[string]string{"id": providerID(spec)},
		Outputs:     rawOutputs(spec),
	}
}

// digest derives stable pseudo-random identifiers from the spec's identity.
func digest(spec *engine.ResourceSpec, salt string) string {
	sum := sha256.Sum256([]byte(string(spec.Provider) + "/" + spec.ID + "/" + salt))
	return hex.EncodeToString(sum[:])
}

var (
	_ engine.Driver = (*Driver)(nil)
	_ engine.Reader = (*Driver)(nil)
)
