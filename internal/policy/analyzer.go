package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/localrivet/npamcp/internal/logger"
	"github.com/localrivet/npamcp/internal/npa"
	"github.com/localrivet/npamcp/internal/resolver"
)

// ReferenceType classifies how a rule refers to an app.
type ReferenceType string

// Reference types.
const (
	ReferenceDirect ReferenceType = "direct"
	ReferenceTag    ReferenceType = "tag"
	ReferenceMixed  ReferenceType = "mixed"
)

// Reference describes one rule that refers to the analyzed app.
type Reference struct {
	PolicyID      int           `json:"policy_id"`
	PolicyName    string        `json:"policy_name"`
	ReferenceType ReferenceType `json:"reference_type"`

	// CanSafelyRemove is set when the rule names the app directly and would
	// reference nothing once the app is removed.
	CanSafelyRemove bool `json:"can_safely_remove"`

	// RequiresManualCleanup is set when the rule matches through a tag that
	// another app also carries.
	RequiresManualCleanup bool `json:"requires_manual_cleanup"`

	MatchedTags []string `json:"matched_tags,omitempty"`
	SharedTags  []string `json:"shared_tags,omitempty"`
}

// API is the part of the Resource API the analyzer and deleter use.
type API interface {
	ListPrivateApps(ctx context.Context, opts ...npa.ReadOption) ([]npa.PrivateApp, error)
	ListPolicyRules(ctx context.Context, opts ...npa.ReadOption) ([]npa.PolicyRule, error)
	UpdatePolicyRule(ctx context.Context, rule npa.PolicyRule) error
	DeletePolicyRule(ctx context.Context, id int) error
	DeletePrivateApp(ctx context.Context, id int) error
}

// Analysis is the result of scanning every rule for references to one app.
// It is computed from fresh reads and never cached.
type Analysis struct {
	App        npa.PrivateApp `json:"app"`
	References []Reference    `json:"references"`
	Warnings   []string       `json:"warnings,omitempty"`

	// Unparsed lists rules whose rule_data could not be parsed but whose raw
	// text mentions the app or one of its tags.
	Unparsed []UnparsedRule `json:"unparsed_rules,omitempty"`

	rules map[int]*Rule
}

// UnparsedRule is a rule that may refer to the app but could not be read.
type UnparsedRule struct {
	PolicyID   int    `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Reason     string `json:"reason"`
}

// HasReferences reports whether any rule refers to the app.
func (a *Analysis) HasReferences() bool {
	return len(a.References) > 0
}

// SafeToDelete reports whether nothing refers, or may refer, to the app.
func (a *Analysis) SafeToDelete() bool {
	return !a.HasReferences() && len(a.Unparsed) == 0
}

// PolicyNames returns the names of the referencing rules.
func (a *Analysis) PolicyNames() []string {
	names := make([]string, len(a.References))
	for i, ref := range a.References {
		names[i] = ref.PolicyName
	}
	return names
}

// Analyzer finds policy references to private apps.
type Analyzer struct {
	api    API
	logger *slog.Logger
}

// NewAnalyzer returns an Analyzer reading through api.
func NewAnalyzer(api API, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{api: api, logger: logger.WithComponent(log, "policy", "analyzer")}
}

// ResolveApp finds a private app by ID or name from a fresh listing.
func (an *Analyzer) ResolveApp(ctx context.Context, identifier string) (npa.PrivateApp, error) {
	list := func(ctx context.Context) ([]npa.PrivateApp, error) {
		return an.api.ListPrivateApps(ctx, npa.Fresh())
	}
	return resolver.Resolve(ctx, list, identifier, resolver.Kind("private app"))
}

// Analyze reads every rule and app fresh and classifies each rule that
// refers to app. Rules whose rule_data cannot be parsed are skipped with a
// warning, and recorded as unparsed when their raw text mentions the app.
func (an *Analyzer) Analyze(ctx context.Context, app npa.PrivateApp) (*Analysis, error) {
	rules, err := an.api.ListPolicyRules(ctx, npa.Fresh())
	if err != nil {
		return nil, err
	}
	apps, err := an.api.ListPrivateApps(ctx, npa.Fresh())
	if err != nil {
		return nil, err
	}

	var others []npa.PrivateApp
	for _, other := range apps {
		if other.ID != app.ID {
			others = append(others, other)
		}
	}

	analysis := &Analysis{App: app, References: []Reference{}, rules: make(map[int]*Rule)}
	for _, wire := range rules {
		rule, err := ParseRule(wire)
		if err != nil {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("policy %q (ID %d) skipped: %v", wire.Name, wire.ID, err))
			if mentionsApp(wire.RuleData, app) {
				analysis.Unparsed = append(analysis.Unparsed, UnparsedRule{
					PolicyID:   wire.ID,
					PolicyName: wire.Name,
					Reason:     err.Error(),
				})
			}
			continue
		}
		ref, ok := classify(rule, app, others)
		if !ok {
			continue
		}
		analysis.References = append(analysis.References, ref)
		analysis.rules[rule.ID] = rule
	}

	an.logger.Debug("Analyzed policy references",
		"app_id", app.ID,
		"app_name", app.Name,
		"rules_scanned", len(rules),
		"references", len(analysis.References),
		"unparsed", len(analysis.Unparsed))
	return analysis, nil
}

// mentionsApp reports whether raw rule_data contains the app name or one of
// its tag names, case-insensitively.
func mentionsApp(raw []byte, app npa.PrivateApp) bool {
	text := strings.ToLower(string(raw))
	if text == "" {
		return false
	}
	for _, name := range append([]string{app.Name}, app.TagNames()...) {
		if name != "" && strings.Contains(text, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

// classify reports whether rule refers to app and how.
func classify(rule *Rule, app npa.PrivateApp, others []npa.PrivateApp) (Reference, bool) {
	direct := false
	var matched []string

	for _, c := range rule.Conditions {
		switch c.Kind {
		case KindPrivateApp:
			if SameAppName(c.Value, app.Name) {
				direct = true
			}
		case KindTag:
			if containsFold(app.TagNames(), c.Value) && !containsFold(matched, c.Value) {
				matched = append(matched, strings.TrimSpace(c.Value))
			}
		case KindUser, KindGroup, KindLocation, KindDevice:
			// Not app references.
		}
	}

	var refType ReferenceType
	switch {
	case direct && len(matched) > 0:
		refType = ReferenceMixed
	case direct:
		refType = ReferenceDirect
	case len(matched) > 0:
		refType = ReferenceTag
	default:
		return Reference{}, false
	}

	var shared []string
	for _, tag := range matched {
		for _, other := range others {
			if containsFold(other.TagNames(), tag) {
				shared = append(shared, tag)
				break
			}
		}
	}

	canSafelyRemove := false
	if refType == ReferenceDirect {
		stripped := rule.Clone()
		stripped.RemoveApp(app.Name)
		canSafelyRemove = !stripped.ReferencesAnyApp()
	}

	return Reference{
		PolicyID:              rule.ID,
		PolicyName:            rule.Name,
		ReferenceType:         refType,
		CanSafelyRemove:       canSafelyRemove,
		RequiresManualCleanup: len(shared) > 0,
		MatchedTags:           matched,
		SharedTags:            shared,
	}, true
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
