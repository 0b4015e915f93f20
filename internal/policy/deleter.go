package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/journal"
	"github.com/localrivet/npamcp/internal/logger"
	"github.com/localrivet/npamcp/internal/npa"
	"github.com/localrivet/npamcp/internal/telemetry"
)

// Action is what cleanup did, or would do, to one rule.
type Action string

// Cleanup actions.
const (
	ActionUpdated      Action = journal.ActionRuleUpdated
	ActionDeleted      Action = journal.ActionRuleDeleted
	ActionManualReview Action = journal.ActionManualReview
	ActionFailed       Action = journal.ActionFailed
)

// CleanedPolicy reports the handling of one rule.
type CleanedPolicy struct {
	PolicyID   int    `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Action     Action `json:"action"`
	Detail     string `json:"detail,omitempty"`
}

// Plan is the analysis of a deletion request. CleanedPolicies lists the
// actions cleanup would take.
type Plan struct {
	AppID           int             `json:"app_id"`
	AppName         string          `json:"app_name"`
	References      []Reference     `json:"references"`
	Warnings        []string        `json:"warnings,omitempty"`
	Blockers        []string        `json:"blockers,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	CleanedPolicies []CleanedPolicy `json:"cleaned_policies,omitempty"`
}

// Status is the terminal state of a deletion request.
type Status string

// Deletion statuses.
const (
	StatusDeleted Status = "deleted"
	StatusBlocked Status = "blocked"
	StatusDryRun  Status = "dry_run"
)

// Outcome is returned for every request that got past validation. A blocked
// deletion is an outcome, not an error.
type Outcome struct {
	Status          Status          `json:"status"`
	Success         bool            `json:"success"`
	AppID           int             `json:"app_id"`
	AppName         string          `json:"app_name"`
	Plan            *Plan           `json:"plan"`
	CleanedPolicies []CleanedPolicy `json:"cleaned_policies,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	OperationID     string          `json:"operation_id"`
}

// DeleteRequest asks for a private app to be deleted.
type DeleteRequest struct {
	// Identifier is the app's numeric ID or name.
	Identifier string
	// CleanupPolicies rewrites or removes referencing rules first.
	CleanupPolicies bool
	// Force deletes even when references remain.
	Force bool
	// DryRun reports the plan without changing anything.
	DryRun bool
}

// RemainingReferencesError is returned when rules still refer to the app
// after cleanup and Force was not set. The app has not been deleted; the
// cleanup already performed is listed in Cleaned.
type RemainingReferencesError struct {
	AppID    int
	AppName  string
	Policies []string
	Cleaned  []CleanedPolicy
}

func (e *RemainingReferencesError) Error() string {
	return fmt.Sprintf("private app %q is still referenced by policies: %s (set force to delete anyway)",
		e.AppName, strings.Join(e.Policies, ", "))
}

// Recorder stores cleanup and deletion events.
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Deleter deletes private apps together with their policy references.
type Deleter struct {
	api      API
	analyzer *Analyzer
	recorder Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	newID    func() string
}

// NewDeleter creates a Deleter. recorder and metrics may be nil.
func NewDeleter(api API, recorder Recorder, metrics *telemetry.Metrics, log *slog.Logger) *Deleter {
	if log == nil {
		log = slog.Default()
	}
	return &Deleter{
		api:      api,
		analyzer: NewAnalyzer(api, log),
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.WithComponent(log, "policy", "deleter"),
		newID:    uuid.NewString,
	}
}

// Analyzer returns the analyzer used by d.
func (d *Deleter) Analyzer() *Analyzer {
	return d.analyzer
}

// Delete runs a deletion request. Dry runs and blocked requests return an
// outcome without mutating anything. Cleanup failures are reported as
// warnings and do not stop the remaining rules from being cleaned.
func (d *Deleter) Delete(ctx context.Context, req DeleteRequest) (*Outcome, error) {
	app, err := d.analyzer.ResolveApp(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	analysis, err := d.analyzer.Analyze(ctx, app)
	if err != nil {
		return nil, err
	}

	opID := d.newID()
	log := d.logger.With("operation_id", opID, "app_id", app.ID, "app_name", app.Name)

	plan := BuildPlan(analysis, req)
	outcome := &Outcome{
		AppID:       app.ID,
		AppName:     app.Name,
		Plan:        plan,
		Warnings:    append([]string(nil), plan.Warnings...),
		OperationID: opID,
	}

	if req.DryRun {
		log.Info("Dry run complete", "references", len(plan.References))
		outcome.Status = StatusDryRun
		outcome.Success = true
		return outcome, nil
	}

	if len(plan.Blockers) > 0 && !req.Force {
		log.Warn("Deletion blocked", "blockers", len(plan.Blockers))
		outcome.Status = StatusBlocked
		return outcome, nil
	}

	if len(analysis.Unparsed) > 0 {
		names := make([]string, len(analysis.Unparsed))
		for i, u := range analysis.Unparsed {
			names[i] = u.PolicyName
		}
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf(
			"deleted with force; unparsed policies may still reference the app: %s",
			strings.Join(names, ", ")))
	}

	if req.CleanupPolicies && analysis.HasReferences() {
		cleaned, warnings := d.clean(ctx, analysis, opID)
		outcome.CleanedPolicies = cleaned
		outcome.Warnings = append(outcome.Warnings, warnings...)
	}

	if analysis.HasReferences() {
		remaining, err := d.analyzer.Analyze(ctx, app)
		if err != nil {
			return nil, err
		}
		if remaining.HasReferences() {
			if !req.Force {
				log.Warn("References remain after cleanup", "policies", remaining.PolicyNames())
				return nil, &RemainingReferencesError{
					AppID:    app.ID,
					AppName:  app.Name,
					Policies: remaining.PolicyNames(),
					Cleaned:  outcome.CleanedPolicies,
				}
			}
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf(
				"deleted with force; policies still referencing the app: %s",
				strings.Join(remaining.PolicyNames(), ", ")))
		}
	}

	if err := d.api.DeletePrivateApp(ctx, app.ID); err != nil {
		return nil, errortypes.APIError(err, "failed to delete private app").
			WithField("app_id", app.ID).
			WithField("operation_id", opID)
	}
	d.record(ctx, journal.Entry{
		OperationID: opID,
		AppID:       app.ID,
		AppName:     app.Name,
		Action:      journal.ActionAppDeleted,
	})

	log.Info("Deleted private app", "cleaned_policies", len(outcome.CleanedPolicies))
	outcome.Status = StatusDeleted
	outcome.Success = true
	return outcome, nil
}

// clean applies the planned change to every referencing rule. Each rule is
// written at most once.
func (d *Deleter) clean(ctx context.Context, analysis *Analysis, opID string) ([]CleanedPolicy, []string) {
	var cleaned []CleanedPolicy
	var warnings []string

	for _, ref := range analysis.References {
		rule := analysis.rules[ref.PolicyID]
		updated, action, detail := planCleanup(rule, ref, analysis.App)

		var err error
		switch action {
		case ActionDeleted:
			err = d.api.DeletePolicyRule(ctx, rule.ID)
		case ActionUpdated:
			var wire npa.PolicyRule
			wire, err = updated.Encode()
			if err == nil {
				err = d.api.UpdatePolicyRule(ctx, wire)
			}
		case ActionManualReview:
			warnings = append(warnings, fmt.Sprintf("policy %q needs manual review: %s", rule.Name, detail))
		}
		if err != nil {
			d.logger.Warn("Policy cleanup failed", "policy_id", rule.ID, "policy_name", rule.Name, "error", err)
			action = ActionFailed
			detail = err.Error()
			warnings = append(warnings, fmt.Sprintf("failed to clean policy %q: %v", rule.Name, err))
		}

		if action == ActionUpdated && len(ref.SharedTags) > 0 {
			warnings = append(warnings, fmt.Sprintf("policy %q still matches through shared tags: %s",
				rule.Name, strings.Join(ref.SharedTags, ", ")))
		}

		d.metrics.CascadeAction(string(action))
		d.record(ctx, journal.Entry{
			OperationID: opID,
			AppID:       analysis.App.ID,
			AppName:     analysis.App.Name,
			PolicyID:    rule.ID,
			PolicyName:  rule.Name,
			Action:      string(action),
			Detail:      detail,
		})
		cleaned = append(cleaned, CleanedPolicy{
			PolicyID:   rule.ID,
			PolicyName: rule.Name,
			Action:     action,
			Detail:     detail,
		})
	}
	return cleaned, warnings
}

func (d *Deleter) record(ctx context.Context, entry journal.Entry) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(ctx, entry); err != nil {
		errortypes.LogError(d.logger, err)
	}
}

// BuildPlan turns an analysis into a plan for req: planned actions,
// blockers and recommendations.
func BuildPlan(analysis *Analysis, req DeleteRequest) *Plan {
	app := analysis.App
	plan := &Plan{
		AppID:      app.ID,
		AppName:    app.Name,
		References: analysis.References,
		Warnings:   append([]string(nil), analysis.Warnings...),
	}

	for _, u := range analysis.Unparsed {
		plan.Blockers = append(plan.Blockers, fmt.Sprintf(
			"policy %q (ID %d) could not be parsed and may reference the app: %s",
			u.PolicyName, u.PolicyID, u.Reason))
	}
	if len(analysis.Unparsed) > 0 {
		plan.Recommendations = append(plan.Recommendations,
			"check the unparsed policies by hand, or set force to delete anyway")
	}

	if !analysis.HasReferences() {
		if len(analysis.Unparsed) == 0 {
			plan.Recommendations = append(plan.Recommendations,
				"no policy references this app; it can be deleted without cleanup")
		}
		return plan
	}

	for _, ref := range analysis.References {
		_, action, detail := planCleanup(analysis.rules[ref.PolicyID], ref, app)
		plan.CleanedPolicies = append(plan.CleanedPolicies, CleanedPolicy{
			PolicyID:   ref.PolicyID,
			PolicyName: ref.PolicyName,
			Action:     action,
			Detail:     detail,
		})
	}

	if !req.CleanupPolicies {
		for _, ref := range analysis.References {
			plan.Blockers = append(plan.Blockers,
				fmt.Sprintf("policy %q references the app (%s)", ref.PolicyName, ref.ReferenceType))
		}
		plan.Recommendations = append(plan.Recommendations,
			"set cleanup_policies to remove the references before deleting",
			"set force to delete the app and leave the references in place")
		return plan
	}

	for _, ref := range analysis.References {
		if ref.RequiresManualCleanup {
			plan.Blockers = append(plan.Blockers, fmt.Sprintf(
				"policy %q matches through tags shared with other apps: %s",
				ref.PolicyName, strings.Join(ref.SharedTags, ", ")))
		}
	}
	if len(plan.Blockers) > 0 {
		plan.Recommendations = append(plan.Recommendations,
			"review the shared tags in the listed policies by hand, or set force to clean what can be cleaned and delete anyway")
	}
	return plan
}

// planCleanup computes the rewritten rule for one reference. The direct
// reference is removed first, then every matched tag no other app carries.
// The returned rule is nil when the rule should be deleted.
func planCleanup(rule *Rule, ref Reference, app npa.PrivateApp) (*Rule, Action, string) {
	working := rule.Clone()
	var changes []string

	if ref.ReferenceType == ReferenceDirect || ref.ReferenceType == ReferenceMixed {
		if n := working.RemoveApp(app.Name); n > 0 {
			changes = append(changes, fmt.Sprintf("removed app %q", app.Name))
		}
	}
	if ref.ReferenceType == ReferenceTag || ref.ReferenceType == ReferenceMixed {
		for _, tag := range ref.MatchedTags {
			if containsFold(ref.SharedTags, tag) {
				continue
			}
			if n := working.RemoveTag(tag); n > 0 {
				changes = append(changes, fmt.Sprintf("removed tag %q", tag))
			}
		}
	}

	if len(changes) == 0 {
		return rule, ActionManualReview, fmt.Sprintf("left unchanged; tags shared with other apps: %s",
			strings.Join(ref.SharedTags, ", "))
	}
	if !working.ReferencesAnyApp() {
		return nil, ActionDeleted, strings.Join(changes, "; ") + "; rule references nothing else"
	}
	detail := strings.Join(changes, "; ")
	if len(ref.SharedTags) > 0 {
		detail += "; shared tags kept: " + strings.Join(ref.SharedTags, ", ")
	}
	return working, ActionUpdated, detail
}
