package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/localrivet/gomcp/server"

	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/journal"
	"github.com/localrivet/npamcp/internal/logger"
	"github.com/localrivet/npamcp/internal/npa"
	"github.com/localrivet/npamcp/internal/policy"
	"github.com/localrivet/npamcp/internal/schedule"
	"github.com/localrivet/npamcp/internal/tools"
)

// Common server error types
var (
	ErrServerNotInitialized = errors.New("server not initialized")
	ErrMissingDependencies  = errors.New("one or more required dependencies are nil")
	ErrJournalDisabled      = errors.New("deletion journal is not configured")
)

// NPAToolServer implements the ToolServer interface for private access
// administration over MCP.
type NPAToolServer struct {
	api       *npa.API
	deleter   *policy.Deleter
	history   journal.Store
	validate  *validator.Validate
	logger    *slog.Logger
	mcpServer server.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNPAToolServer creates a tool server. history may be nil, in which case
// get_deletion_history reports that the journal is disabled.
func NewNPAToolServer(api *npa.API, deleter *policy.Deleter, history journal.Store, log *slog.Logger) *NPAToolServer {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NPAToolServer{
		api:      api,
		deleter:  deleter,
		history:  history,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.WithComponent(log, "server"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize registers the tools.
func (s *NPAToolServer) Initialize() error {
	s.logger.Info("Initializing MCP tool server")

	if s.api == nil || s.deleter == nil {
		return errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	srv := server.NewServer("npamcp")

	srv = srv.Tool(tools.ToolListPrivateApps, "List private apps",
		s.handleListPrivateApps)
	srv = srv.Tool(tools.ToolResolvePrivateApp, "Find a private app by numeric ID or name",
		s.handleResolvePrivateApp)
	srv = srv.Tool(tools.ToolAnalyzePrivateAppDependencies, "List the policy rules that reference a private app and whether they can be cleaned up automatically",
		s.handleAnalyzeDependencies)
	srv = srv.Tool(tools.ToolDeletePrivateApp, "Delete a private app, optionally cleaning up referencing policy rules first",
		s.handleDeletePrivateApp)
	srv = srv.Tool(tools.ToolListPolicyRules, "List private access policy rules",
		s.handleListPolicyRules)
	srv = srv.Tool(tools.ToolListPublishers, "List publishers",
		s.handleListPublishers)
	srv = srv.Tool(tools.ToolGetPublisher, "Find a publisher by numeric ID or name",
		s.handleGetPublisher)
	srv = srv.Tool(tools.ToolListLocalBrokers, "List local brokers",
		s.handleListLocalBrokers)
	srv = srv.Tool(tools.ToolListUpgradeProfiles, "List publisher upgrade profiles",
		s.handleListUpgradeProfiles)
	srv = srv.Tool(tools.ToolCreateUpgradeProfile, "Create a publisher upgrade profile; schedule is \"MIN HOUR * * DAY\" or \"DAY HH:MM\"",
		s.handleCreateUpgradeProfile)
	srv = srv.Tool(tools.ToolUpdateUpgradeProfile, "Update a publisher upgrade profile; omitted fields are kept",
		s.handleUpdateUpgradeProfile)
	srv = srv.Tool(tools.ToolNormalizeSchedule, "Convert a weekly schedule to the canonical \"MIN HOUR * * DAY\" form",
		s.handleNormalizeSchedule)
	srv = srv.Tool(tools.ToolGetDeletionHistory, "Show journal entries recorded by private app deletions",
		s.handleGetDeletionHistory)

	s.mcpServer = srv
	s.logger.Info("MCP tool server initialized successfully", "tool_count", 13)
	return nil
}

// Start serves MCP requests on stdio.
func (s *NPAToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot start server")
	}

	s.logger.Info("Starting MCP tool server")
	return s.mcpServer.AsStdio().Run()
}

// Stop cancels in-flight tool calls. The stdio loop exits when stdin closes.
func (s *NPAToolServer) Stop() error {
	s.logger.Info("Stopping MCP tool server")
	s.cancel()
	return nil
}

// fail logs err and converts it to an error result.
func (s *NPAToolServer) fail(tool string, err error) tools.Result {
	errortypes.LogError(s.logger.With("tool", tool), err)
	return tools.Result{
		Status:    tools.StatusError,
		Error:     err.Error(),
		ErrorCode: ErrorCode(err),
	}
}

func (s *NPAToolServer) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return errortypes.ValidationError(err, "invalid request")
	}
	return nil
}

func success() tools.Result {
	return tools.Result{Status: tools.StatusSuccess}
}

func readOptions(fresh bool) []npa.ReadOption {
	if fresh {
		return []npa.ReadOption{npa.Fresh()}
	}
	return nil
}

// handleListPrivateApps handles the list_private_apps MCP tool call.
func (s *NPAToolServer) handleListPrivateApps(_ *server.Context, req tools.ListRequest) (tools.ListPrivateAppsResponse, error) {
	apps, err := s.api.ListPrivateApps(s.ctx, readOptions(req.Fresh)...)
	if err != nil {
		return tools.ListPrivateAppsResponse{Result: s.fail(tools.ToolListPrivateApps, err)}, nil
	}
	return tools.ListPrivateAppsResponse{Result: success(), Apps: apps, Total: len(apps)}, nil
}

// handleResolvePrivateApp handles the resolve_private_app MCP tool call.
func (s *NPAToolServer) handleResolvePrivateApp(_ *server.Context, req tools.IdentifierRequest) (tools.ResolvePrivateAppResponse, error) {
	if err := s.check(req); err != nil {
		return tools.ResolvePrivateAppResponse{Result: s.fail(tools.ToolResolvePrivateApp, err)}, nil
	}
	app, err := s.api.ResolvePrivateApp(s.ctx, req.Identifier)
	if err != nil {
		return tools.ResolvePrivateAppResponse{Result: s.fail(tools.ToolResolvePrivateApp, err)}, nil
	}
	return tools.ResolvePrivateAppResponse{Result: success(), App: &app}, nil
}

// handleAnalyzeDependencies handles the analyze_private_app_dependencies MCP tool call.
func (s *NPAToolServer) handleAnalyzeDependencies(_ *server.Context, req tools.IdentifierRequest) (tools.AnalyzeDependenciesResponse, error) {
	if err := s.check(req); err != nil {
		return tools.AnalyzeDependenciesResponse{Result: s.fail(tools.ToolAnalyzePrivateAppDependencies, err)}, nil
	}

	analyzer := s.deleter.Analyzer()
	app, err := analyzer.ResolveApp(s.ctx, req.Identifier)
	if err != nil {
		return tools.AnalyzeDependenciesResponse{Result: s.fail(tools.ToolAnalyzePrivateAppDependencies, err)}, nil
	}
	analysis, err := analyzer.Analyze(s.ctx, app)
	if err != nil {
		return tools.AnalyzeDependenciesResponse{Result: s.fail(tools.ToolAnalyzePrivateAppDependencies, err)}, nil
	}

	plan := policy.BuildPlan(analysis, policy.DeleteRequest{Identifier: req.Identifier, CleanupPolicies: true})
	references := analysis.References
	if references == nil {
		references = []policy.Reference{}
	}
	return tools.AnalyzeDependenciesResponse{
		Result:        success(),
		AppID:         app.ID,
		AppName:       app.Name,
		References:    references,
		Warnings:      analysis.Warnings,
		SafeToDelete:  analysis.SafeToDelete(),
		AutoCleanable: len(plan.Blockers) == 0,
	}, nil
}

// handleDeletePrivateApp handles the delete_private_app MCP tool call.
func (s *NPAToolServer) handleDeletePrivateApp(_ *server.Context, req tools.DeletePrivateAppRequest) (tools.DeletePrivateAppResponse, error) {
	s.logger.Info("Processing delete_private_app request",
		"identifier", req.Identifier,
		"cleanup_policies", req.CleanupPolicies,
		"force", req.Force,
		"dry_run", req.DryRun)

	if err := s.check(req); err != nil {
		return tools.DeletePrivateAppResponse{Result: s.fail(tools.ToolDeletePrivateApp, err)}, nil
	}

	outcome, err := s.deleter.Delete(s.ctx, policy.DeleteRequest{
		Identifier:      req.Identifier,
		CleanupPolicies: req.CleanupPolicies,
		Force:           req.Force,
		DryRun:          req.DryRun,
	})
	if err != nil {
		response := tools.DeletePrivateAppResponse{Result: s.fail(tools.ToolDeletePrivateApp, err)}
		var remaining *policy.RemainingReferencesError
		if errors.As(err, &remaining) {
			response.AppID = remaining.AppID
			response.AppName = remaining.AppName
			response.RemainingPolicies = remaining.Policies
			response.CleanedPolicies = remaining.Cleaned
		}
		return response, nil
	}

	response := tools.DeletePrivateAppResponse{
		Result:          success(),
		Outcome:         string(outcome.Status),
		AppID:           outcome.AppID,
		AppName:         outcome.AppName,
		OperationID:     outcome.OperationID,
		Plan:            outcome.Plan,
		CleanedPolicies: outcome.CleanedPolicies,
		Warnings:        outcome.Warnings,
	}
	if outcome.Status == policy.StatusBlocked {
		response.Status = tools.StatusError
		response.ErrorCode = ErrorCodeDeletionBlocked
		response.Error = "deletion blocked: " + strings.Join(outcome.Plan.Blockers, "; ")
	}
	return response, nil
}

// handleListPolicyRules handles the list_policy_rules MCP tool call.
func (s *NPAToolServer) handleListPolicyRules(_ *server.Context, req tools.ListRequest) (tools.ListPolicyRulesResponse, error) {
	rules, err := s.api.ListPolicyRules(s.ctx, readOptions(req.Fresh)...)
	if err != nil {
		return tools.ListPolicyRulesResponse{Result: s.fail(tools.ToolListPolicyRules, err)}, nil
	}
	return tools.ListPolicyRulesResponse{Result: success(), Rules: rules, Total: len(rules)}, nil
}

// handleListPublishers handles the list_publishers MCP tool call.
func (s *NPAToolServer) handleListPublishers(_ *server.Context, req tools.ListRequest) (tools.ListPublishersResponse, error) {
	publishers, err := s.api.ListPublishers(s.ctx, readOptions(req.Fresh)...)
	if err != nil {
		return tools.ListPublishersResponse{Result: s.fail(tools.ToolListPublishers, err)}, nil
	}
	return tools.ListPublishersResponse{Result: success(), Publishers: publishers, Total: len(publishers)}, nil
}

// handleGetPublisher handles the get_publisher MCP tool call.
func (s *NPAToolServer) handleGetPublisher(_ *server.Context, req tools.IdentifierRequest) (tools.GetPublisherResponse, error) {
	if err := s.check(req); err != nil {
		return tools.GetPublisherResponse{Result: s.fail(tools.ToolGetPublisher, err)}, nil
	}
	publisher, err := s.api.ResolvePublisher(s.ctx, req.Identifier)
	if err != nil {
		return tools.GetPublisherResponse{Result: s.fail(tools.ToolGetPublisher, err)}, nil
	}
	return tools.GetPublisherResponse{Result: success(), Publisher: &publisher}, nil
}

// handleListLocalBrokers handles the list_local_brokers MCP tool call.
func (s *NPAToolServer) handleListLocalBrokers(_ *server.Context, req tools.ListRequest) (tools.ListLocalBrokersResponse, error) {
	brokers, err := s.api.ListLocalBrokers(s.ctx, readOptions(req.Fresh)...)
	if err != nil {
		return tools.ListLocalBrokersResponse{Result: s.fail(tools.ToolListLocalBrokers, err)}, nil
	}
	return tools.ListLocalBrokersResponse{Result: success(), Brokers: brokers, Total: len(brokers)}, nil
}

// handleListUpgradeProfiles handles the list_upgrade_profiles MCP tool call.
func (s *NPAToolServer) handleListUpgradeProfiles(_ *server.Context, req tools.ListRequest) (tools.ListUpgradeProfilesResponse, error) {
	profiles, err := s.api.ListUpgradeProfiles(s.ctx, readOptions(req.Fresh)...)
	if err != nil {
		return tools.ListUpgradeProfilesResponse{Result: s.fail(tools.ToolListUpgradeProfiles, err)}, nil
	}
	return tools.ListUpgradeProfilesResponse{Result: success(), Profiles: profiles, Total: len(profiles)}, nil
}

// handleCreateUpgradeProfile handles the create_upgrade_profile MCP tool call.
func (s *NPAToolServer) handleCreateUpgradeProfile(_ *server.Context, req tools.CreateUpgradeProfileRequest) (tools.UpgradeProfileResponse, error) {
	if err := s.check(req); err != nil {
		return tools.UpgradeProfileResponse{Result: s.fail(tools.ToolCreateUpgradeProfile, err)}, nil
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	profile, err := s.api.CreateUpgradeProfile(s.ctx, npa.UpgradeProfileInput{
		Name:        req.Name,
		Frequency:   req.Schedule,
		Timezone:    req.Timezone,
		DockerTag:   req.DockerTag,
		ReleaseType: req.ReleaseType,
		Enabled:     enabled,
	})
	if err != nil {
		return tools.UpgradeProfileResponse{Result: s.fail(tools.ToolCreateUpgradeProfile, err)}, nil
	}
	return profileResponse(profile), nil
}

// handleUpdateUpgradeProfile handles the update_upgrade_profile MCP tool call.
func (s *NPAToolServer) handleUpdateUpgradeProfile(_ *server.Context, req tools.UpdateUpgradeProfileRequest) (tools.UpgradeProfileResponse, error) {
	if err := s.check(req); err != nil {
		return tools.UpgradeProfileResponse{Result: s.fail(tools.ToolUpdateUpgradeProfile, err)}, nil
	}

	current, err := s.api.ResolveUpgradeProfile(s.ctx, req.Identifier)
	if err != nil {
		return tools.UpgradeProfileResponse{Result: s.fail(tools.ToolUpdateUpgradeProfile, err)}, nil
	}

	input := npa.UpgradeProfileInput{
		Name:        current.Name,
		Frequency:   current.Frequency,
		Timezone:    current.Timezone,
		DockerTag:   current.DockerTag,
		ReleaseType: current.ReleaseType,
		Enabled:     current.Enabled,
	}
	if req.Name != "" {
		input.Name = req.Name
	}
	if req.Schedule != "" {
		input.Frequency = req.Schedule
	}
	if req.Timezone != "" {
		input.Timezone = req.Timezone
	}
	if req.DockerTag != "" {
		input.DockerTag = req.DockerTag
	}
	if req.ReleaseType != "" {
		input.ReleaseType = req.ReleaseType
	}
	if req.Enabled != nil {
		input.Enabled = *req.Enabled
	}

	profile, err := s.api.UpdateUpgradeProfile(s.ctx, current.ID, input)
	if err != nil {
		return tools.UpgradeProfileResponse{Result: s.fail(tools.ToolUpdateUpgradeProfile, err)}, nil
	}
	return profileResponse(profile), nil
}

func profileResponse(profile npa.UpgradeProfile) tools.UpgradeProfileResponse {
	response := tools.UpgradeProfileResponse{Result: success(), Profile: &profile}
	if description, err := schedule.Describe(profile.Frequency); err == nil {
		response.ScheduleDescription = description
	}
	return response
}

// handleNormalizeSchedule handles the normalize_schedule MCP tool call.
func (s *NPAToolServer) handleNormalizeSchedule(_ *server.Context, req tools.NormalizeScheduleRequest) (tools.NormalizeScheduleResponse, error) {
	if err := s.check(req); err != nil {
		return tools.NormalizeScheduleResponse{Result: s.fail(tools.ToolNormalizeSchedule, err)}, nil
	}
	canonical, err := schedule.Canonicalize(req.Schedule)
	if err != nil {
		return tools.NormalizeScheduleResponse{Result: s.fail(tools.ToolNormalizeSchedule, err)}, nil
	}
	description, err := schedule.Describe(canonical)
	if err != nil {
		return tools.NormalizeScheduleResponse{Result: s.fail(tools.ToolNormalizeSchedule, err)}, nil
	}
	return tools.NormalizeScheduleResponse{Result: success(), Schedule: canonical, Description: description}, nil
}

// handleGetDeletionHistory handles the get_deletion_history MCP tool call.
func (s *NPAToolServer) handleGetDeletionHistory(_ *server.Context, req tools.GetDeletionHistoryRequest) (tools.GetDeletionHistoryResponse, error) {
	if s.history == nil {
		return tools.GetDeletionHistoryResponse{Result: tools.Result{
			Status:    tools.StatusError,
			Error:     ErrJournalDisabled.Error(),
			ErrorCode: ErrorCodeJournalDisabled,
		}}, nil
	}
	if err := s.check(req); err != nil {
		return tools.GetDeletionHistoryResponse{Result: s.fail(tools.ToolGetDeletionHistory, err)}, nil
	}

	limit := req.Limit
	if limit == 0 {
		limit = tools.DefaultHistoryLimit
	}
	entries, err := s.history.List(s.ctx, journal.Filter{
		AppID:       req.AppID,
		OperationID: req.OperationID,
		Limit:       limit,
	})
	if err != nil {
		return tools.GetDeletionHistoryResponse{Result: s.fail(tools.ToolGetDeletionHistory, err)}, nil
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return tools.GetDeletionHistoryResponse{Result: success(), Entries: entries}, nil
}
