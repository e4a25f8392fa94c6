package aster

import (
	"fmt"
	"log/slog"
	"sync"
)

// Skill is a named bundle of extra system-prompt instructions, loaded in two
// phases: the description is listed on every request so the model knows the
// skill exists, and the full instructions are injected only while the skill
// is active. DisableModelInvocation hides the skill from the phase-1 listing
// entirely.
type Skill struct {
	Name                   string
	Description            string
	Instructions           string
	DisableModelInvocation bool
}

// SkillRegistry manages skill registration and activation, and composes the
// system prompt. Composition is stateless: for a fixed base prompt and a
// fixed registered/active state it always produces the same bytes.
type SkillRegistry struct {
	mu     sync.RWMutex
	order  []string
	skills map[string]Skill
	active []string // activation order
	logger *slog.Logger
}

// SkillOption configures a SkillRegistry.
type SkillOption func(*SkillRegistry)

// WithSkillLogger sets a structured logger for the registry.
func WithSkillLogger(l *slog.Logger) SkillOption {
	return func(r *SkillRegistry) { r.logger = l }
}

// NewSkillRegistry creates an empty registry.
func NewSkillRegistry(opts ...SkillOption) *SkillRegistry {
	r := &SkillRegistry{
		skills: make(map[string]Skill),
		logger: nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a skill. A duplicate name fails.
func (r *SkillRegistry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Name == "" {
		return fmt.Errorf("skill registry: empty skill name")
	}
	if _, exists := r.skills[s.Name]; exists {
		return fmt.Errorf("skill registry: skill %q already registered", s.Name)
	}
	r.order = append(r.order, s.Name)
	r.skills[s.Name] = s
	r.logger.Info("skill registered", "skill", s.Name)
	return nil
}

// Activate marks a skill active (phase 2). Unknown names fail. Activating an
// already-active skill is a no-op.
func (r *SkillRegistry) Activate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[name]; !ok {
		return fmt.Errorf("skill registry: unknown skill %q", name)
	}
	for _, a := range r.active {
		if a == name {
			return nil
		}
	}
	r.active = append(r.active, name)
	r.logger.Info("skill activated", "skill", name)
	return nil
}

// Deactivate removes a skill from the active set. Unknown or inactive names
// are a no-op.
func (r *SkillRegistry) Deactivate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.active {
		if a == name {
			r.active = append(r.active[:i], r.active[i+1:]...)
			r.logger.Info("skill deactivated", "skill", name)
			return
		}
	}
}

// Names returns registered skill names in registration order.
func (r *SkillRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Active returns active skill names in activation order.
func (r *SkillRegistry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.active))
	copy(out, r.active)
	return out
}

// Get returns a skill by name.
func (r *SkillRegistry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// descriptions returns the phase-1 listing of visible skills, or "" when
// nothing is visible. Caller holds the lock.
func (r *SkillRegistry) descriptions() string {
	var lines []string
	for _, name := range r.order {
		s := r.skills[name]
		if s.DisableModelInvocation {
			continue
		}
		lines = append(lines, "- "+s.Name+": "+s.Description)
	}
	if len(lines) == 0 {
		return ""
	}
	out := "Available Skills:"
	for _, l := range lines {
		out += "\n" + l
	}
	return out
}

// Compose builds the system prompt for one request:
//
//  1. the base prompt;
//  2. the phase-1 listing of visible registered skills;
//  3. one "## Skill:" section per active skill, in activation order.
//
// With no registered skills the base prompt is returned unchanged, keeping
// the bytes stable for prompt caching.
func (r *SkillRegistry) Compose(base string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.skills) == 0 {
		return base
	}

	out := base
	if d := r.descriptions(); d != "" {
		out += "\n\n" + d
	}
	for _, name := range r.active {
		s, ok := r.skills[name]
		if !ok {
			continue
		}
		out += "\n\n## Skill: " + s.Name + "\n\n" + s.Instructions
	}
	return out
}
