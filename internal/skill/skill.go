// Package skill holds the pluggable response-producing capabilities the
// orchestrator routes between.
//
// A skill does not generate text itself. It resolves tenant data into a
// prompt addendum for the generation step, so adding a business capability
// means registering a skill, not touching the state machine.
package skill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrSkillNotFound is returned when a slug has no registered skill.
var ErrSkillNotFound = errors.New("skill not found")

// GeneralSlug is the fallback route when no skill claims the message.
const GeneralSlug = "general"

// Output is what a skill contributes to the current turn.
type Output struct {
	// PromptContext is appended to the generation input.
	PromptContext string
}

// Skill is a pluggable business capability.
type Skill interface {
	// Name is the skill's slug, e.g. "product_sales".
	Name() string

	// Description explains when the skill applies.
	Description() string

	// Keywords are the message terms that route to this skill.
	Keywords() []string

	// Execute resolves tenant data for the current message.
	Execute(ctx context.Context, message string) (Output, error)
}

// Registry is the set of available skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{skills: make(map[string]Skill), logger: logger}
}

// Register adds a skill. Re-registering a slug replaces the previous skill.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.skills[s.Name()] = s
	r.logger.Info("skill registered", zap.String("skill", s.Name()))
}

// Get returns the skill for a slug.
func (r *Registry) Get(slug string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, slug)
	}
	return s, nil
}

// List returns registered slugs in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Route picks the skill for a message among the enabled slugs, or
// GeneralSlug when none claims it.
//
// Routing is deterministic keyword containment: the enabled skill matching
// the most keywords wins, earlier registration breaking ties. Messages
// with no keyword hits fall through to the general generation path.
func (r *Registry) Route(message string, enabled []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(message)

	type scored struct {
		slug string
		hits int
		rank int
	}
	var candidates []scored

	for rank, slug := range r.order {
		if len(enabled) > 0 && !contains(enabled, slug) {
			continue
		}
		s := r.skills[slug]
		hits := 0
		for _, kw := range s.Keywords() {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{slug: slug, hits: hits, rank: rank})
		}
	}
	if len(candidates) == 0 {
		return GeneralSlug
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hits != candidates[j].hits {
			return candidates[i].hits > candidates[j].hits
		}
		return candidates[i].rank < candidates[j].rank
	})
	return candidates[0].slug
}

func contains(slugs []string, slug string) bool {
	for _, s := range slugs {
		if s == slug {
			return true
		}
	}
	return false
}
