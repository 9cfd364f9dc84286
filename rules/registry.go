package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hookline/triage/id"
	"github.com/hookline/triage/internal/entity"
	"github.com/hookline/triage/observe"
)

// Registry holds rules in registration order. Evaluation order is insertion
// order; updating a rule keeps its position.
type Registry struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	order  []string
	bus    *observe.Bus
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *observe.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rules:  make(map[string]*Rule),
		bus:    bus,
		logger: logger,
	}
}

// Add registers a rule at the end of the evaluation order. A missing ID is
// assigned.
func (r *Registry) Add(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rules: nil rule")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = id.NewRuleID().String()
	}
	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("rules: rule %s already registered", rule.ID)
	}
	if rule.CreatedAt.IsZero() {
		rule.Entity = entity.New()
	}

	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)

	r.logger.Info("rule added", "rule_id", rule.ID, "name", rule.Name)
	r.emit(observe.KindRuleAdded, rule)
	return nil
}

// Update replaces a registered rule in place, keeping its evaluation
// position.
func (r *Registry) Update(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rules: nil rule")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return ErrRuleNotFound
	}

	rule.Entity = existing.Entity
	rule.Touch()
	r.rules[rule.ID] = rule

	r.logger.Info("rule updated", "rule_id", rule.ID, "name", rule.Name)
	r.emit(observe.KindRuleUpdated, rule)
	return nil
}

// Remove unregisters a rule.
func (r *Registry) Remove(ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}

	delete(r.rules, ruleID)
	for i, oid := range r.order {
		if oid == ruleID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("rule removed", "rule_id", ruleID)
	r.emit(observe.KindRuleRemoved, rule)
	return nil
}

// Get returns a registered rule by ID.
func (r *Registry) Get(ruleID string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleID]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// List returns all rules in evaluation order.
func (r *Registry) List() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Rule, 0, len(r.order))
	for _, ruleID := range r.order {
		out = append(out, r.rules[ruleID])
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func (r *Registry) emit(kind observe.Kind, rule *Rule) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(kind, map[string]any{
		"rule_id": rule.ID,
		"name":    rule.Name,
		"enabled": rule.Enabled,
	})
}
