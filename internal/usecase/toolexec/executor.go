// Package toolexec registers tools and runs them under per-call deadlines.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// DefaultTimeout applies to tools registered without a timeout.
const DefaultTimeout = 30 * time.Second

// Descriptor is the registration form of a tool.
type Descriptor struct {
	Name        string
	Description string
	Handler     domain.ToolHandler
	Params      map[string]domain.ParamSpec
	Timeout     time.Duration
}

type registeredTool struct {
	spec    domain.ToolSpec
	handler domain.ToolHandler
	schema  *jsonschema.Schema
	limiter *rate.Limiter
}

// Executor holds the tool registry. The registry lock is only held for
// lookups and registration; handlers run without any executor-wide lock.
type Executor struct {
	mu             sync.RWMutex
	tools          map[string]*registeredTool
	logger         *slog.Logger
	defaultTimeout time.Duration
	rateLimit      rate.Limit
	rateBurst      int
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout sets the timeout for tools registered without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithRateLimit gives every tool its own token bucket of perSecond calls.
// perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Executor) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.rateLimit = rate.Limit(perSecond)
		e.rateBurst = burst
	}
}

// NewExecutor creates an empty executor.
func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		tools:          make(map[string]*registeredTool),
		logger:         logger,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a tool. Registering an existing name fails with
// ErrDuplicateTool and leaves the original in place.
func (e *Executor) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: tool name is required", domain.ErrInvalidInput)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", domain.ErrInvalidInput, d.Name)
	}
	params := make(map[string]domain.ParamSpec, len(d.Params))
	for k, v := range d.Params {
		params[k] = v
	}
	schema, err := compileSchema(d.Name, params)
	if err != nil {
		return err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	rt := &registeredTool{
		spec: domain.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Params:      params,
			Timeout:     timeout,
		},
		handler: d.Handler,
		schema:  schema,
	}
	if e.rateLimit > 0 {
		rt.limiter = rate.NewLimiter(e.rateLimit, e.rateBurst)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tools[d.Name]; exists {
		return domain.NewDomainError("Executor.Register", domain.ErrDuplicateTool, d.Name)
	}
	e.tools[d.Name] = rt
	e.logger.Debug("tool registered", "tool", d.Name, "timeout", timeout)
	return nil
}

// RegisterFunc registers a typed handler. The parameter table is derived
// from P's struct fields; arguments are decoded into P through JSON.
func RegisterFunc[P, R any](e *Executor, name, description string, fn func(context.Context, P) (R, error), timeout time.Duration) error {
	params, err := paramsFromStruct(reflect.TypeOf((*P)(nil)).Elem())
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return e.Register(Descriptor{
		Name:        name,
		Description: description,
		Params:      params,
		Timeout:     timeout,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var p P
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			return fn(ctx, p)
		},
	})
}

func (e *Executor) lookup(name string) (*registeredTool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (e *Executor) Has(name string) bool {
	_, ok := e.lookup(name)
	return ok
}

// Spec returns the registered description of a tool.
func (e *Executor) Spec(name string) (domain.ToolSpec, bool) {
	t, ok := e.lookup(name)
	if !ok {
		return domain.ToolSpec{}, false
	}
	return t.spec, true
}

// List returns all tool specs sorted by name.
func (e *Executor) List() []domain.ToolSpec {
	e.mu.RLock()
	specs := make([]domain.ToolSpec, 0, len(e.tools))
	for _, t := range e.tools {
		specs = append(specs, t.spec)
	}
	e.mu.RUnlock()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ChatTools describes the named tools (all tools when names is empty) for
// LLM function calling.
func (e *Executor) ChatTools(names ...string) []domain.ChatTool {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []domain.ChatTool
	for _, s := range e.List() {
		if len(want) > 0 && !want[s.Name] {
			continue
		}
		out = append(out, domain.ChatTool{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  jsonSchema(s.Params),
		})
	}
	return out
}

// Validate checks args against the tool's parameter table without running it.
func (e *Executor) Validate(name string, args map[string]any) domain.ValidationResult {
	t, ok := e.lookup(name)
	if !ok {
		return domain.ValidationResult{Err: domain.NewDomainError("Executor.Validate", domain.ErrUnknownTool, name)}
	}
	return t.validate(args)
}

func (t *registeredTool) validate(args map[string]any) domain.ValidationResult {
	var missing []string
	for pname, p := range t.spec.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[pname]; !ok || v == nil {
			missing = append(missing, pname)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.ValidationResult{
			Missing: missing,
			Err:     fmt.Errorf("%w: %s", domain.ErrMissingParameter, strings.Join(missing, ", ")),
		}
	}

	doc, err := normalize(args)
	if err != nil {
		return domain.ValidationResult{Err: fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)}
	}
	if err := t.schema.Validate(doc); err != nil {
		return domain.ValidationResult{Err: fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)}
	}
	return domain.ValidationResult{Valid: true}
}

// Execute validates args and runs the tool under its registered timeout.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) domain.ExecutionResult {
	return e.ExecuteWithTimeout(ctx, name, args, 0)
}

type outcome struct {
	value any
	err   error
}

// ExecuteWithTimeout is Execute with a per-call deadline override;
// timeout <= 0 uses the tool's own timeout. On expiry the result is returned
// immediately and whatever the handler produces later is discarded.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, name string, args map[string]any, timeout time.Duration) domain.ExecutionResult {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "toolexec.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	fail := func(label, detail string) domain.ExecutionResult {
		res := domain.ExecutionResult{Error: label, Detail: detail, ExecutionTime: time.Since(start)}
		tracer.RecordError(span, errors.New(label))
		e.logger.Warn("tool execution failed", "tool", name, "error", label, "detail", detail)
		return res
	}

	t, ok := e.lookup(name)
	if !ok {
		return fail(domain.ToolErrValidation, domain.NewDomainError("Executor.Execute", domain.ErrUnknownTool, name).Error())
	}
	if v := t.validate(args); !v.Valid {
		return fail(domain.ToolErrValidation, v.Err.Error())
	}
	if t.limiter != nil && !t.limiter.Allow() {
		return fail(domain.ToolErrRateLimited, fmt.Sprintf("tool %s rate limit exceeded", name))
	}

	if timeout <= 0 {
		timeout = t.spec.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a handler finishing after the deadline never blocks.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool handler panic", "tool", name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := t.handler(runCtx, withDefaults(args, t.spec.Params))
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return fail(o.err.Error(), "")
		}
		tracer.SetOK(span)
		return domain.ExecutionResult{Success: true, Result: o.value, ExecutionTime: time.Since(start)}
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fail(domain.ToolErrTimeout, fmt.Sprintf("tool %s exceeded %s", name, timeout))
		}
		return fail(runCtx.Err().Error(), "")
	}
}

// withDefaults returns a copy of args with defaults for absent optional
// parameters filled in.
func withDefaults(args map[string]any, params map[string]domain.ParamSpec) map[string]any {
	out := make(map[string]any, len(args)+len(params))
	for k, v := range args {
		out[k] = v
	}
	for name, p := range params {
		if _, ok := out[name]; !ok && p.Default != nil {
			out[name] = p.Default
		}
	}
	return out
}

var _ domain.ToolRunner = (*Executor)(nil)
