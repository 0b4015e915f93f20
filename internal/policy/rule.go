// Package policy finds the access policy rules that reference a private app
// and deletes the app after cleaning those rules up.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/npa"
)

// ConditionKind identifies what a rule condition matches on.
type ConditionKind string

// Condition kinds.
const (
	KindPrivateApp ConditionKind = "private_app"
	KindTag        ConditionKind = "tag"
	KindUser       ConditionKind = "user"
	KindGroup      ConditionKind = "group"
	KindLocation   ConditionKind = "location"
	KindDevice     ConditionKind = "device"
)

// Condition is one entry of a rule's match criteria.
type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Value string        `json:"value"`

	// ActivityScoped is set for private apps listed with activities.
	ActivityScoped bool            `json:"activity_scoped,omitempty"`
	Activities     json.RawMessage `json:"activities,omitempty"`
}

// rule_data members holding plain string lists, in encoding order.
var listKeys = []struct {
	key  string
	kind ConditionKind
}{
	{"privateApps", KindPrivateApp},
	{"privateAppTags", KindTag},
	{"users", KindUser},
	{"groups", KindGroup},
	{"locations", KindLocation},
	{"devices", KindDevice},
}

const activityAppsKey = "privateAppsWithActivities"

type activityApp struct {
	AppName    string          `json:"appName"`
	Activities json.RawMessage `json:"activities,omitempty"`
}

// Rule is a policy rule with its rule_data parsed into conditions. Members of
// rule_data that are not conditions are carried through unchanged.
type Rule struct {
	ID         int
	Name       string
	Enabled    *bool
	Conditions []Condition

	extra   map[string]json.RawMessage
	present map[string]bool
}

// ParseRule parses the wire form of a rule.
func ParseRule(r npa.PolicyRule) (*Rule, error) {
	rule := &Rule{
		ID:      r.ID,
		Name:    r.Name,
		Enabled: r.Enabled,
		extra:   make(map[string]json.RawMessage),
		present: make(map[string]bool),
	}
	if len(r.RuleData) == 0 || string(r.RuleData) == "null" {
		return rule, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(r.RuleData, &raw); err != nil {
		return nil, errortypes.FormatError(err, "malformed rule_data").WithField("rule_id", r.ID)
	}

	for _, lk := range listKeys {
		value, ok := raw[lk.key]
		if !ok {
			continue
		}
		var items []string
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, errortypes.FormatError(fmt.Errorf("%s: %w", lk.key, err), "malformed rule_data").
				WithField("rule_id", r.ID)
		}
		delete(raw, lk.key)
		rule.present[lk.key] = true
		for _, item := range items {
			rule.Conditions = append(rule.Conditions, Condition{Kind: lk.kind, Value: item})
		}
	}

	if value, ok := raw[activityAppsKey]; ok {
		var items []activityApp
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, errortypes.FormatError(fmt.Errorf("%s: %w", activityAppsKey, err), "malformed rule_data").
				WithField("rule_id", r.ID)
		}
		delete(raw, activityAppsKey)
		rule.present[activityAppsKey] = true
		for _, item := range items {
			rule.Conditions = append(rule.Conditions, Condition{
				Kind:           KindPrivateApp,
				Value:          item.AppName,
				ActivityScoped: true,
				Activities:     item.Activities,
			})
		}
	}

	rule.extra = raw
	return rule, nil
}

// Encode returns the wire form of the rule. Condition lists that were present
// on input are always written, even when they became empty.
func (r *Rule) Encode() (npa.PolicyRule, error) {
	data := make(map[string]any, len(r.extra)+len(listKeys)+1)
	for k, v := range r.extra {
		data[k] = v
	}

	for _, lk := range listKeys {
		values := []string{}
		for _, c := range r.Conditions {
			if c.Kind == lk.kind && !c.ActivityScoped {
				values = append(values, c.Value)
			}
		}
		if len(values) > 0 || r.present[lk.key] {
			data[lk.key] = values
		}
	}

	scoped := []activityApp{}
	for _, c := range r.Conditions {
		if c.Kind == KindPrivateApp && c.ActivityScoped {
			scoped = append(scoped, activityApp{AppName: c.Value, Activities: c.Activities})
		}
	}
	if len(scoped) > 0 || r.present[activityAppsKey] {
		data[activityAppsKey] = scoped
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return npa.PolicyRule{}, errortypes.InternalError(err, "failed to encode rule_data").WithField("rule_id", r.ID)
	}
	return npa.PolicyRule{ID: r.ID, Name: r.Name, Enabled: r.Enabled, RuleData: raw}, nil
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	c := &Rule{
		ID:         r.ID,
		Name:       r.Name,
		Enabled:    r.Enabled,
		Conditions: append([]Condition(nil), r.Conditions...),
		extra:      make(map[string]json.RawMessage, len(r.extra)),
		present:    make(map[string]bool, len(r.present)),
	}
	for k, v := range r.extra {
		c.extra[k] = v
	}
	for k, v := range r.present {
		c.present[k] = v
	}
	return c
}

// RemoveApp drops every private app condition naming app, plain or
// activity-scoped, and returns how many were removed.
func (r *Rule) RemoveApp(name string) int {
	return r.removeWhere(func(c Condition) bool {
		return c.Kind == KindPrivateApp && SameAppName(c.Value, name)
	})
}

// RemoveTag drops the tag condition and returns how many were removed.
func (r *Rule) RemoveTag(tag string) int {
	return r.removeWhere(func(c Condition) bool {
		return c.Kind == KindTag && strings.EqualFold(strings.TrimSpace(c.Value), strings.TrimSpace(tag))
	})
}

func (r *Rule) removeWhere(match func(Condition) bool) int {
	kept := r.Conditions[:0:0]
	removed := 0
	for _, c := range r.Conditions {
		if match(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.Conditions = kept
	return removed
}

// ReferencesAnyApp reports whether the rule still names any app, activity
// scoped app or tag.
func (r *Rule) ReferencesAnyApp() bool {
	for _, c := range r.Conditions {
		if c.Kind == KindPrivateApp || c.Kind == KindTag {
			return true
		}
	}
	return false
}

// SameAppName compares app names as rules spell them: surrounding brackets
// and case are ignored, so "[Jira]" matches "jira".
func SameAppName(a, b string) bool {
	return strings.EqualFold(trimBrackets(a), trimBrackets(b))
}

func trimBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.TrimSpace(s)
}
