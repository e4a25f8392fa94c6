package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool sources.
const (
	SourceNative = "native"
	SourceSkill  = "skill"
	SourceMCP    = "mcp"
)

// Handler executes one tool call. Returning an error marks the tool_result as
// failed; the agent loop feeds it back to the model rather than aborting the
// turn. A result that is not already a string is serialized as JSON.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool describes a registered capability.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-Schema object describing the input. The raw bytes
	// are forwarded to the provider untouched so the serialized tool list is
	// identical turn over turn.
	Parameters json.RawMessage
	Handler    Handler
	// FileParam names the input field identifying a shared resource. When set
	// and the registry has a lock provider, execution holds the lock keyed by
	// that argument's value.
	FileParam string
	Source    string
}

// ToolDescriptor is the provider-facing slice of a Tool.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// LockProvider serializes access to a shared resource by key.
// Release must be safe to call after a successful Acquire on every exit path.
type LockProvider interface {
	Acquire(ctx context.Context, key string) error
	Release(key string)
}

// KeyLock is the in-process LockProvider: one mutex per key, keys never
// expire. Suitable for a single-process sandbox.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyLock creates an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyLock) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Acquire blocks until the key's mutex is held. The context is checked before
// blocking; a mutex hold is always short-lived (one tool execution).
func (k *KeyLock) Acquire(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.lockFor(key).Lock()
	return nil
}

// Release unlocks the key's mutex.
func (k *KeyLock) Release(key string) {
	k.lockFor(key).Unlock()
}

// ToolExecutor is the execution-side view of a tool registry, the surface the
// agent loop consumes. Wrappers (instrumentation) implement it around a
// *ToolRegistry.
type ToolExecutor interface {
	Descriptors() []ToolDescriptor
	Len() int
	Execute(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// ToolRegistry holds registered tools and dispatches execution. Registration
// order is part of the external contract: Descriptors returns tools in the
// order they were added, and the provider request must preserve it.
type ToolRegistry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]*registeredTool
	locks   LockProvider
	logger  *slog.Logger
	validat bool
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema // nil when validation is off or schema empty
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithLockProvider sets the lock provider used for FileParam serialization.
func WithLockProvider(lp LockProvider) RegistryOption {
	return func(r *ToolRegistry) { r.locks = lp }
}

// WithRegistryLogger sets a structured logger for the registry.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = l }
}

// WithoutValidation disables JSON-Schema validation of tool inputs.
func WithoutValidation() RegistryOption {
	return func(r *ToolRegistry) { r.validat = false }
}

// NewToolRegistry creates an empty registry. Inputs are validated against
// each tool's parameter schema unless WithoutValidation is given.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:   make(map[string]*registeredTool),
		logger:  nopLogger,
		validat: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool. A duplicate name is a configuration error and fails.
func (r *ToolRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name == "" {
		return fmt.Errorf("tool registry: empty tool name")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool registry: tool %q already registered", t.Name)
	}
	if t.Source == "" {
		t.Source = SourceNative
	}

	rt := &registeredTool{tool: t}
	if r.validat && len(t.Parameters) > 0 {
		schema, err := jsonschema.CompileString(t.Name+".schema.json", string(t.Parameters))
		if err != nil {
			return fmt.Errorf("tool registry: schema for %q: %w", t.Name, err)
		}
		rt.schema = schema
	}

	r.order = append(r.order, t.Name)
	r.tools[t.Name] = rt
	r.logger.Info("tool registered", "tool", t.Name, "file_param", t.FileParam)
	return nil
}

// SetSource annotates a tool's provenance. Unknown names fail.
func (r *ToolRegistry) SetSource(name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool registry: unknown tool %q", name)
	}
	rt.tool.Source = source
	return nil
}

// Names returns registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Descriptors returns the provider-facing tool list in registration order.
func (r *ToolRegistry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

// Execute runs the named tool with the given raw JSON arguments. When the
// tool declares a FileParam and a lock provider is configured, the lock keyed
// by that argument is held for the duration of the handler, released on every
// exit path including handler panics. A panic becomes an error result.
func (r *ToolRegistry) Execute(ctx context.Context, name string, rawArgs json.RawMessage) (result any, err error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	locks := r.locks
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if uerr := json.Unmarshal(rawArgs, &args); uerr != nil {
			return nil, fmt.Errorf("tool %q: invalid arguments: %w", name, uerr)
		}
	}

	if rt.schema != nil {
		var doc any
		if len(rawArgs) == 0 {
			doc = map[string]any{}
		} else if uerr := json.Unmarshal(rawArgs, &doc); uerr != nil {
			return nil, fmt.Errorf("tool %q: invalid arguments: %w", name, uerr)
		}
		if verr := rt.schema.Validate(doc); verr != nil {
			return nil, fmt.Errorf("tool %q: arguments rejected by schema: %w", name, verr)
		}
	}

	var lockKey string
	if rt.tool.FileParam != "" && locks != nil {
		if v, ok := args[rt.tool.FileParam].(string); ok && v != "" {
			lockKey = v
		}
	}
	if lockKey != "" {
		if aerr := locks.Acquire(ctx, lockKey); aerr != nil {
			return nil, fmt.Errorf("tool %q: acquire lock %q: %w", name, lockKey, aerr)
		}
		defer locks.Release(lockKey)
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("tool %q panic: %v", name, p)
		}
	}()

	r.logger.Debug("executing tool", "tool", name)
	return rt.tool.Handler(ctx, args)
}

var _ ToolExecutor = (*ToolRegistry)(nil)
