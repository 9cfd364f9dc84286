package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hookline/triage/event"
	"github.com/hookline/triage/observe"
	"github.com/hookline/triage/schedule"
	"github.com/hookline/triage/upstream"
)

// scheduledActionTimeout bounds an action fired from the scheduler, which
// has no request context of its own.
const scheduledActionTimeout = 30 * time.Second

// Tracker is the slice of the upstream API the engine needs. *upstream.Client
// satisfies it.
type Tracker interface {
	User(ctx context.Context, userID string) (*upstream.User, error)
	WorkflowStates(ctx context.Context, teamID string) ([]upstream.WorkflowState, error)
	UpdateIssue(ctx context.Context, issueID string, patch upstream.IssueUpdate) (*upstream.Issue, error)
	CreateComment(ctx context.Context, issueID, body string) (*upstream.Comment, error)
}

// ReviewerResolver picks a reviewer for an assign_reviewer action.
type ReviewerResolver interface {
	Resolve(ctx context.Context, evt event.AssignmentEvent, cfg map[string]any) (string, error)
}

// ConfigResolver reads the reviewer from the action's "reviewer" config key.
// It is the default resolver.
type ConfigResolver struct{}

// Resolve implements ReviewerResolver.
func (ConfigResolver) Resolve(_ context.Context, _ event.AssignmentEvent, cfg map[string]any) (string, error) {
	if reviewer, ok := cfg["reviewer"].(string); ok && reviewer != "" {
		return reviewer, nil
	}
	return "", fmt.Errorf("rules: no reviewer configured")
}

// Engine evaluates registered rules against assignment events.
type Engine struct {
	registry  *Registry
	tracker   Tracker
	resolver  ReviewerResolver
	scheduler *schedule.Scheduler
	bus       *observe.Bus
	logger    *slog.Logger
}

// NewEngine creates a rule engine. tracker may be nil, in which case
// assignee patterns only match user IDs and tracker-backed actions fail.
func NewEngine(registry *Registry, tracker Tracker, scheduler *schedule.Scheduler, bus *observe.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		tracker:   tracker,
		resolver:  ConfigResolver{},
		scheduler: scheduler,
		bus:       bus,
		logger:    logger,
	}
}

// SetResolver replaces the reviewer resolver. Call before Start.
func (e *Engine) SetResolver(r ReviewerResolver) {
	if r != nil {
		e.resolver = r
	}
}

// HandleAssignment runs every applicable rule against the event, in
// registration order. Rules are isolated from each other: a rule that
// fails, either while matching or mid-action, is reported through the bus
// and its siblings still run. The returned error is always nil today;
// callers should still check it.
func (e *Engine) HandleAssignment(ctx context.Context, evt event.AssignmentEvent) error {
	for _, rule := range e.registry.List() {
		if !rule.Enabled {
			continue
		}
		e.runRule(ctx, rule, evt)
	}
	return nil
}

// runRule matches and executes one rule, absorbing panics so a broken rule
// cannot take down the handler or its sibling rules.
func (e *Engine) runRule(ctx context.Context, rule *Rule, evt event.AssignmentEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorContext(ctx, "rule panicked",
				"rule_id", rule.ID, "issue_id", evt.IssueID, "panic", rec)
			e.emitRuleFailed(rule, evt, fmt.Sprintf("panic: %v", rec))
		}
	}()

	matched, err := e.matches(ctx, rule, evt)
	if err != nil {
		e.logger.WarnContext(ctx, "rule match failed",
			"rule_id", rule.ID, "issue_id", evt.IssueID, "error", err)
		e.emitRuleFailed(rule, evt, err.Error())
		return
	}
	if !matched {
		return
	}

	e.logger.InfoContext(ctx, "rule matched",
		"rule_id", rule.ID, "name", rule.Name, "issue_id", evt.IssueID)

	for i, act := range rule.Actions {
		if act.Delay > 0 {
			e.scheduleAction(rule, act, evt)
			continue
		}
		if err := e.execute(ctx, rule, act, evt); err != nil {
			e.logger.WarnContext(ctx, "rule action failed, aborting remaining actions",
				"rule_id", rule.ID, "action", act.Type, "position", i, "error", err)
			e.emitRuleFailed(rule, evt, fmt.Sprintf("action %s: %v", act.Type, err))
			return
		}
	}
}

// ──────────────────────────────────────────────────
// Matching
// ──────────────────────────────────────────────────

// matches applies team, assignee, structural, and expression filters in
// cost order, cheapest first.
func (e *Engine) matches(ctx context.Context, rule *Rule, evt event.AssignmentEvent) (bool, error) {
	if rule.TeamID != "" && rule.TeamID != evt.TeamID {
		return false, nil
	}

	cond := rule.Conditions
	if len(cond.Priority) > 0 && !containsInt(cond.Priority, evt.Issue.Priority) {
		return false, nil
	}
	if len(cond.StateType) > 0 && !containsString(cond.StateType, evt.Issue.State.Type) {
		return false, nil
	}
	if len(cond.Labels) > 0 && !hasAnyLabel(evt, cond.Labels) {
		return false, nil
	}
	if cond.TitlePattern != "" {
		ok, err := matchPattern(cond.TitlePattern, evt.Issue.Title)
		if err != nil {
			return false, fmt.Errorf("rules: title pattern: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	if rule.AssigneePattern != "" {
		ok, err := e.matchAssignee(ctx, rule.AssigneePattern, evt.NewAssignee)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if rule.When != "" {
		return evalWhen(rule.When, evt)
	}
	return true, nil
}

// matchAssignee tests the pattern against the user ID first; on a miss it
// fetches the user and tests name, display name, and email. The ID test is
// free, so a rule keyed on IDs never costs an upstream call.
func (e *Engine) matchAssignee(ctx context.Context, pattern, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ok, err := matchPattern(pattern, userID)
	if err != nil {
		return false, fmt.Errorf("rules: assignee pattern: %w", err)
	}
	if ok {
		return true, nil
	}
	if e.tracker == nil {
		return false, nil
	}

	user, err := e.tracker.User(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("rules: resolve assignee %s: %w", userID, err)
	}

	for _, candidate := range []string{user.Name, user.DisplayName, user.Email} {
		if candidate == "" {
			continue
		}
		ok, err := matchPattern(pattern, candidate)
		if err != nil {
			return false, fmt.Errorf("rules: assignee pattern: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// patternCache holds compiled rule patterns; rules are few and long-lived,
// so entries are never evicted.
var patternCache sync.Map // pattern string -> *regexp.Regexp

// matchPattern is a case-insensitive, unanchored regexp test, so "bot-"
// matches "bot-7".
func matchPattern(pattern, value string) (bool, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", pattern, err)
	}
	patternCache.Store(pattern, re)
	return re.MatchString(value), nil
}

func hasAnyLabel(evt event.AssignmentEvent, labels []string) bool {
	for _, label := range labels {
		if evt.Issue.HasLabel(label) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────
// Actions
// ──────────────────────────────────────────────────

// scheduleAction defers an action through the scheduler. Scheduling the
// same issue/rule/action again replaces the pending run.
func (e *Engine) scheduleAction(rule *Rule, act Action, evt event.AssignmentEvent) {
	key := schedule.Key(evt.IssueID, rule.ID, act.Type)
	e.scheduler.Schedule(key, act.Delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledActionTimeout)
		defer cancel()

		if err := e.execute(ctx, rule, act, evt); err != nil {
			e.logger.Error("scheduled action failed",
				"rule_id", rule.ID, "action", act.Type, "issue_id", evt.IssueID, "error", err)
			e.emitRuleFailed(rule, evt, fmt.Sprintf("scheduled %s: %v", act.Type, err))
		}
	})
	e.logger.Info("action scheduled",
		"rule_id", rule.ID, "action", act.Type, "issue_id", evt.IssueID, "delay", act.Delay)
}

func (e *Engine) execute(ctx context.Context, rule *Rule, act Action, evt event.AssignmentEvent) error {
	switch act.Type {
	case ActionNotify:
		return e.runNotify(rule, act, evt)
	case ActionAutoStart:
		return e.runAutoStart(ctx, rule, act, evt)
	case ActionEscalate:
		return e.runEscalate(ctx, rule, act, evt)
	case ActionAssignReviewer:
		return e.runAssignReviewer(ctx, rule, act, evt)
	case ActionCreateBranch:
		return e.runCreateBranch(rule, act, evt)
	case ActionTriggerWorkflow:
		return e.runTriggerWorkflow(rule, act, evt)
	default:
		return fmt.Errorf("rules: unknown action type %q", act.Type)
	}
}

// runNotify publishes a notification observation; delivery collaborators
// subscribe to it.
func (e *Engine) runNotify(rule *Rule, act Action, evt event.AssignmentEvent) error {
	e.emit(observe.KindNotificationTriggered, rule, evt, map[string]any{
		"message": act.ConfigString("message", "issue assigned"),
		"channel": act.ConfigString("channel", ""),
	})
	return nil
}

// runAutoStart moves the issue into the workflow state named by the
// "state_name" config (substring, case-insensitive), falling back to the
// team's first started state. An issue already past backlog/unstarted is
// left alone, with an action-skipped observation so the no-op is visible.
func (e *Engine) runAutoStart(ctx context.Context, rule *Rule, act Action, evt event.AssignmentEvent) error {
	stateType := evt.Issue.State.Type
	if stateType != "" && stateType != "backlog" && stateType != "unstarted" {
		e.emit(observe.KindActionSkipped, rule, evt, map[string]any{
			"action": ActionAutoStart,
			"reason": "issue already " + stateType,
		})
		return nil
	}

	if e.tracker == nil {
		return fmt.Errorf("rules: auto_start requires a tracker client")
	}

	states, err := e.tracker.WorkflowStates(ctx, evt.TeamID)
	if err != nil {
		return fmt.Errorf("rules: auto_start: %w", err)
	}

	// Configured target name wins; the team's first "started" state is the
	// fallback.
	target := strings.ToLower(act.ConfigString("state_name", ""))
	var picked *upstream.WorkflowState
	if target != "" {
		for i, st := range states {
			if strings.Contains(strings.ToLower(st.Name), target) {
				picked = &states[i]
				break
			}
		}
	}
	if picked == nil {
		for i, st := range states {
			if st.Type == "started" {
				picked = &states[i]
				break
			}
		}
	}
	if picked == nil {
		e.emit(observe.KindActionSkipped, rule, evt, map[string]any{
			"action": ActionAutoStart,
			"reason": "team " + evt.TeamID + " has no matching workflow state",
		})
		return nil
	}

	stateID := picked.ID
	if _, err := e.tracker.UpdateIssue(ctx, evt.IssueID, upstream.IssueUpdate{StateID: &stateID}); err != nil {
		return fmt.Errorf("rules: auto_start: %w", err)
	}

	e.emit(observe.KindIssueStatusChanged, rule, evt, map[string]any{
		"state_id":   picked.ID,
		"state_name": picked.Name,
		"state_type": picked.Type,
	})
	return nil
}

// runEscalate announces the escalation; it never mutates upstream state,
// escalation handling belongs to the subscribers.
func (e *Engine) runEscalate(_ context.Context, rule *Rule, act Action, evt event.AssignmentEvent) error {
	e.emit(observe.KindEscalationTriggered, rule, evt, map[string]any{
		"message":  act.ConfigString("message", "issue escalated"),
		"priority": evt.Issue.Priority,
	})
	return nil
}

// runAssignReviewer resolves a reviewer and posts a comment mentioning them
// on the issue.
func (e *Engine) runAssignReviewer(ctx context.Context, rule *Rule, act Action, evt event.AssignmentEvent) error {
	reviewer, err := e.resolver.Resolve(ctx, evt, act.Config)
	if err != nil {
		return fmt.Errorf("rules: assign_reviewer: %w", err)
	}

	if e.tracker == nil {
		return fmt.Errorf("rules: assign_reviewer requires a tracker client")
	}
	body := fmt.Sprintf("@%s please review this issue.", reviewer)
	if _, err := e.tracker.CreateComment(ctx, evt.IssueID, body); err != nil {
		return fmt.Errorf("rules: assign_reviewer comment: %w", err)
	}

	e.emit(observe.KindReviewerAssigned, rule, evt, map[string]any{
		"reviewer": reviewer,
	})
	return nil
}

// runCreateBranch requests a working branch named
// "{prefix}/{identifier}", identifier lowercased.
func (e *Engine) runCreateBranch(rule *Rule, act Action, evt event.AssignmentEvent) error {
	identifier := evt.IssueIdentifier
	if identifier == "" {
		identifier = evt.IssueID
	}
	branch := act.ConfigString("branch_prefix", "codegen") + "/" + strings.ToLower(identifier)

	e.emit(observe.KindBranchCreationRequest, rule, evt, map[string]any{
		"branch": branch,
	})
	return nil
}

// runTriggerWorkflow announces a workflow run for automation subscribers,
// carrying the config parameters merged with assignee and team.
func (e *Engine) runTriggerWorkflow(rule *Rule, act Action, evt event.AssignmentEvent) error {
	workflow := act.ConfigString("workflow", "")
	if workflow == "" {
		return fmt.Errorf("rules: trigger_workflow: no workflow configured")
	}

	params := make(map[string]any, len(act.Config)+2)
	for k, v := range act.Config {
		if k == "workflow" {
			continue
		}
		params[k] = v
	}
	params["assignee"] = evt.NewAssignee
	params["team"] = evt.TeamID

	e.emit(observe.KindWorkflowTriggered, rule, evt, map[string]any{
		"workflow": workflow,
		"params":   params,
	})
	return nil
}

// ──────────────────────────────────────────────────
// Observations
// ──────────────────────────────────────────────────

func (e *Engine) emit(kind observe.Kind, rule *Rule, evt event.AssignmentEvent, extra map[string]any) {
	if e.bus == nil {
		return
	}
	fields := map[string]any{
		"rule_id":          rule.ID,
		"rule_name":        rule.Name,
		"issue_id":         evt.IssueID,
		"issue_identifier": evt.IssueIdentifier,
	}
	for k, v := range extra {
		fields[k] = v
	}
	e.bus.Emit(kind, fields)
}

func (e *Engine) emitRuleFailed(rule *Rule, evt event.AssignmentEvent, reason string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(observe.KindRuleFailed, map[string]any{
		"rule_id":  rule.ID,
		"issue_id": evt.IssueID,
		"reason":   reason,
	})
}
