// Package npa is the typed surface of the Resource API used by npamcp:
// private apps, policy rules, publishers, local brokers and upgrade profiles.
// Every call is one REST request issued through the request client.
package npa

import (
	"encoding/json"
	"strconv"
)

// AppTag is a label attached to a private app. Policy rules may reference
// apps through their tags.
type AppTag struct {
	TagID   int    `json:"tag_id,omitempty"`
	TagName string `json:"tag_name"`
}

// PrivateApp is a private application definition.
type PrivateApp struct {
	ID       int      `json:"app_id"`
	Name     string   `json:"app_name"`
	Host     string   `json:"host,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	Port     string   `json:"port,omitempty"`
	Tags     []AppTag `json:"tags,omitempty"`
}

func (a PrivateApp) ResourceID() string  { return strconv.Itoa(a.ID) }
func (a PrivateApp) DisplayName() string { return a.Name }

// TagNames returns the names of the app's tags.
func (a PrivateApp) TagNames() []string {
	names := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		if t.TagName != "" {
			names = append(names, t.TagName)
		}
	}
	return names
}

// PolicyRule is an access-control rule. RuleData is kept raw; the policy
// package parses it into typed conditions.
type PolicyRule struct {
	ID       int             `json:"rule_id"`
	Name     string          `json:"rule_name"`
	Enabled  *bool           `json:"enabled,omitempty"`
	RuleData json.RawMessage `json:"rule_data,omitempty"`
}

func (r PolicyRule) ResourceID() string  { return strconv.Itoa(r.ID) }
func (r PolicyRule) DisplayName() string { return r.Name }

// Publisher hosts the connectors that reach private apps.
type Publisher struct {
	ID               int      `json:"publisher_id"`
	Name             string   `json:"publisher_name"`
	Status           string   `json:"status,omitempty"`
	UpgradeProfileID int      `json:"publisher_upgrade_profiles_id,omitempty"`
	Tags             []AppTag `json:"tags,omitempty"`
}

func (p Publisher) ResourceID() string  { return strconv.Itoa(p.ID) }
func (p Publisher) DisplayName() string { return p.Name }

// LocalBroker is an on-premises broker.
type LocalBroker struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

func (b LocalBroker) ResourceID() string  { return strconv.Itoa(b.ID) }
func (b LocalBroker) DisplayName() string { return b.Name }

// UpgradeProfile schedules publisher upgrades. Frequency is a canonical
// weekly schedule expression such as "0 10 * * TUE".
type UpgradeProfile struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Frequency   string `json:"frequency"`
	Timezone    string `json:"timezone"`
	DockerTag   string `json:"docker_tag,omitempty"`
	ReleaseType string `json:"release_type,omitempty"`
	Enabled     bool   `json:"enabled"`
}

func (p UpgradeProfile) ResourceID() string  { return strconv.Itoa(p.ID) }
func (p UpgradeProfile) DisplayName() string { return p.Name }

// UpgradeProfileInput is the body of create and update calls. Frequency
// may use either schedule form; it is canonicalized before sending.
type UpgradeProfileInput struct {
	Name        string `json:"name"`
	Frequency   string `json:"frequency"`
	Timezone    string `json:"timezone"`
	DockerTag   string `json:"docker_tag,omitempty"`
	ReleaseType string `json:"release_type,omitempty"`
	Enabled     bool   `json:"enabled"`
}
