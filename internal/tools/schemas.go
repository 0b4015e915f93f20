// Package tools defines the MCP tool names and the request and response
// schemas of the npamcp server.
package tools

import (
	"github.com/localrivet/npamcp/internal/journal"
	"github.com/localrivet/npamcp/internal/npa"
	"github.com/localrivet/npamcp/internal/policy"
)

const (
	// ToolListPrivateApps is the name of the list_private_apps MCP tool
	ToolListPrivateApps = "list_private_apps"

	// ToolResolvePrivateApp is the name of the resolve_private_app MCP tool
	ToolResolvePrivateApp = "resolve_private_app"

	// ToolAnalyzePrivateAppDependencies is the name of the analyze_private_app_dependencies MCP tool
	ToolAnalyzePrivateAppDependencies = "analyze_private_app_dependencies"

	// ToolDeletePrivateApp is the name of the delete_private_app MCP tool
	ToolDeletePrivateApp = "delete_private_app"

	// ToolListPolicyRules is the name of the list_policy_rules MCP tool
	ToolListPolicyRules = "list_policy_rules"

	// ToolListPublishers is the name of the list_publishers MCP tool
	ToolListPublishers = "list_publishers"

	// ToolGetPublisher is the name of the get_publisher MCP tool
	ToolGetPublisher = "get_publisher"

	// ToolListLocalBrokers is the name of the list_local_brokers MCP tool
	ToolListLocalBrokers = "list_local_brokers"

	// ToolListUpgradeProfiles is the name of the list_upgrade_profiles MCP tool
	ToolListUpgradeProfiles = "list_upgrade_profiles"

	// ToolCreateUpgradeProfile is the name of the create_upgrade_profile MCP tool
	ToolCreateUpgradeProfile = "create_upgrade_profile"

	// ToolUpdateUpgradeProfile is the name of the update_upgrade_profile MCP tool
	ToolUpdateUpgradeProfile = "update_upgrade_profile"

	// ToolNormalizeSchedule is the name of the normalize_schedule MCP tool
	ToolNormalizeSchedule = "normalize_schedule"

	// ToolGetDeletionHistory is the name of the get_deletion_history MCP tool
	ToolGetDeletionHistory = "get_deletion_history"

	// DefaultHistoryLimit is the number of journal entries returned
	// when no limit is specified in a get_deletion_history request
	DefaultHistoryLimit = 50
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result carries the status fields shared by every response.
type Result struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// ErrorCode classifies the error, e.g. "NOT_FOUND" or "UPSTREAM_SERVER_ERROR"
	ErrorCode string `json:"error_code,omitempty"`
}

// ListRequest is the input schema of the list_* tools.
type ListRequest struct {
	// Fresh bypasses the response cache
	Fresh bool `json:"fresh,omitempty"`
}

// ListPrivateAppsResponse defines the output schema for list_private_apps
type ListPrivateAppsResponse struct {
	Result
	Apps  []npa.PrivateApp `json:"apps"`
	Total int              `json:"total"`
}

// IdentifierRequest is the input of tools that look up one resource by
// numeric ID or name.
type IdentifierRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

// ResolvePrivateAppResponse defines the output schema for resolve_private_app
type ResolvePrivateAppResponse struct {
	Result
	App *npa.PrivateApp `json:"app,omitempty"`
}

// AnalyzeDependenciesResponse defines the output schema for analyze_private_app_dependencies
type AnalyzeDependenciesResponse struct {
	Result
	AppID      int                `json:"app_id,omitempty"`
	AppName    string             `json:"app_name,omitempty"`
	References []policy.Reference `json:"references"`
	Warnings   []string           `json:"warnings,omitempty"`

	// SafeToDelete is true when no policy refers to the app
	SafeToDelete bool `json:"safe_to_delete"`
	// AutoCleanable is true when cleanup can remove every reference without force
	AutoCleanable bool `json:"auto_cleanable"`
}

// DeletePrivateAppRequest defines the input schema for delete_private_app
type DeletePrivateAppRequest struct {
	// Identifier is the app's numeric ID or name
	Identifier string `json:"identifier" validate:"required"`

	// CleanupPolicies rewrites or removes policy rules referencing the app first
	CleanupPolicies bool `json:"cleanup_policies,omitempty"`

	// Force deletes the app even when references remain
	Force bool `json:"force,omitempty"`

	// DryRun reports what would happen without changing anything
	DryRun bool `json:"dry_run,omitempty"`
}

// DeletePrivateAppResponse defines the output schema for delete_private_app
type DeletePrivateAppResponse struct {
	Result
	Outcome string `json:"outcome,omitempty"`

	AppID           int                    `json:"app_id,omitempty"`
	AppName         string                 `json:"app_name,omitempty"`
	OperationID     string                 `json:"operation_id,omitempty"`
	Plan            *policy.Plan           `json:"plan,omitempty"`
	CleanedPolicies []policy.CleanedPolicy `json:"cleaned_policies,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`

	// RemainingPolicies lists the rules that still reference the app when
	// deletion was refused after cleanup
	RemainingPolicies []string `json:"remaining_policies,omitempty"`
}

// ListPolicyRulesResponse defines the output schema for list_policy_rules
type ListPolicyRulesResponse struct {
	Result
	Rules []npa.PolicyRule `json:"rules"`
	Total int              `json:"total"`
}

// ListPublishersResponse defines the output schema for list_publishers
type ListPublishersResponse struct {
	Result
	Publishers []npa.Publisher `json:"publishers"`
	Total      int             `json:"total"`
}

// GetPublisherResponse defines the output schema for get_publisher
type GetPublisherResponse struct {
	Result
	Publisher *npa.Publisher `json:"publisher,omitempty"`
}

// ListLocalBrokersResponse defines the output schema for list_local_brokers
type ListLocalBrokersResponse struct {
	Result
	Brokers []npa.LocalBroker `json:"brokers"`
	Total   int               `json:"total"`
}

// ListUpgradeProfilesResponse defines the output schema for list_upgrade_profiles
type ListUpgradeProfilesResponse struct {
	Result
	Profiles []npa.UpgradeProfile `json:"profiles"`
	Total    int                  `json:"total"`
}

// CreateUpgradeProfileRequest defines the input schema for create_upgrade_profile
type CreateUpgradeProfileRequest struct {
	Name string `json:"name" validate:"required,max=128"`

	// Schedule is "MIN HOUR * * DAY" or "DAY HH:MM"
	Schedule string `json:"schedule" validate:"required"`

	Timezone    string `json:"timezone" validate:"required"`
	DockerTag   string `json:"docker_tag,omitempty"`
	ReleaseType string `json:"release_type,omitempty" validate:"omitempty,oneof=Beta Latest Latest-1 Latest-2"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// UpdateUpgradeProfileRequest defines the input schema for update_upgrade_profile.
// Omitted fields keep their current values.
type UpdateUpgradeProfileRequest struct {
	// Identifier is the profile's numeric ID or name
	Identifier string `json:"identifier" validate:"required"`

	Name        string `json:"name,omitempty" validate:"omitempty,max=128"`
	Schedule    string `json:"schedule,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	DockerTag   string `json:"docker_tag,omitempty"`
	ReleaseType string `json:"release_type,omitempty" validate:"omitempty,oneof=Beta Latest Latest-1 Latest-2"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// UpgradeProfileResponse defines the output schema for create_upgrade_profile
// and update_upgrade_profile
type UpgradeProfileResponse struct {
	Result
	Profile             *npa.UpgradeProfile `json:"profile,omitempty"`
	ScheduleDescription string              `json:"schedule_description,omitempty"`
}

// NormalizeScheduleRequest defines the input schema for normalize_schedule
type NormalizeScheduleRequest struct {
	// Schedule is "MIN HOUR * * DAY" or "DAY HH:MM"
	Schedule string `json:"schedule" validate:"required"`
}

// NormalizeScheduleResponse defines the output schema for normalize_schedule
type NormalizeScheduleResponse struct {
	Result
	Schedule    string `json:"schedule,omitempty"`
	Description string `json:"description,omitempty"`
}

// GetDeletionHistoryRequest defines the input schema for get_deletion_history
type GetDeletionHistoryRequest struct {
	AppID       int    `json:"app_id,omitempty" validate:"gte=0"`
	OperationID string `json:"operation_id,omitempty" validate:"omitempty,uuid"`
	Limit       int    `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

// GetDeletionHistoryResponse defines the output schema for get_deletion_history
type GetDeletionHistoryResponse struct {
	Result
	Entries []journal.Entry `json:"entries"`
}
