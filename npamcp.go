// Package npamcp exposes private access administration (private apps,
// policy rules, publishers and upgrade profiles) as MCP tools.
package npamcp

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localrivet/npamcp/internal/apiclient"
	"github.com/localrivet/npamcp/internal/config"
	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/journal"
	"github.com/localrivet/npamcp/internal/npa"
	"github.com/localrivet/npamcp/internal/policy"
	"github.com/localrivet/npamcp/internal/schedule"
	"github.com/localrivet/npamcp/internal/server"
	"github.com/localrivet/npamcp/internal/telemetry"
)

// Config represents the configuration for the npamcp service.
type Config = config.Config

// Components are the collaborators behind the tool server. Journal is nil
// when no journal path is configured.
type Components struct {
	Client  *apiclient.Client
	API     *npa.API
	Deleter *policy.Deleter
	Journal journal.Store
	Metrics *telemetry.Metrics
}

// Close releases the journal.
func (c *Components) Close() error {
	if c.Journal == nil {
		return nil
	}
	return c.Journal.Close()
}

// Server represents the npamcp service.
type Server struct {
	config     *Config
	components *Components
	toolServer server.ToolServer
	logger     *slog.Logger
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config               // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string                // Path to config file. Used if Config is nil. If both are empty, the default file and environment are used.
	Logger     *slog.Logger          // External logger. If nil, slog.Default() is used.
	Registerer prometheus.Registerer // Metrics registry. If nil, metrics are collected but not registered.
}

// NewServer creates a new Server with the given options.
func NewServer(opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Config
	var err error
	switch {
	case cfg != nil:
		cfg.ApplyAliases()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	case opts.ConfigPath != "":
		logger.Info("Loading configuration", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	default:
		cfg, err = config.LoadConfig()
		if err != nil {
			return nil, err
		}
	}

	components, err := CreateComponents(cfg, opts.Registerer, logger)
	if err != nil {
		return nil, err
	}

	toolServer := server.NewNPAToolServer(components.API, components.Deleter, components.Journal, logger)
	if err := toolServer.Initialize(); err != nil {
		components.Close()
		return nil, errortypes.ConfigError(err, "failed to initialize MCP tool server")
	}

	logger.Info("npamcp server initialized", "base_url", cfg.API.BaseURL, "journal", cfg.Journal.SQLitePath != "")
	return &Server{
		config:     cfg,
		components: components,
		toolServer: toolServer,
		logger:     logger,
	}, nil
}

// DefaultConfig returns the default configuration. BaseURL and Token must
// still be set before use.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// CreateComponents builds the Resource API client, the deleter and the
// optional journal without creating a tool server. This is useful when the
// tools are embedded in another MCP server.
func CreateComponents(cfg *Config, reg prometheus.Registerer, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := telemetry.NewMetrics(reg)
	client, err := apiclient.NewFromConfig(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	api := npa.New(client)
	components := &Components{Client: client, API: api, Metrics: metrics}

	var recorder policy.Recorder
	if cfg.Journal.SQLitePath != "" {
		logger.Info("Initializing deletion journal", "path", cfg.Journal.SQLitePath)
		store := journal.NewSQLiteStore()
		if err := store.Initialize(cfg.Journal.SQLitePath); err != nil {
			return nil, err
		}
		components.Journal = store
		recorder = store
	}

	components.Deleter = policy.NewDeleter(api, recorder, metrics, logger)
	return components, nil
}

// Start serves MCP requests on stdio until the stream closes.
func (s *Server) Start() error {
	s.logger.Info("Starting npamcp service")
	return s.toolServer.Start()
}

// Stop cancels in-flight tool calls and closes the journal.
func (s *Server) Stop() error {
	s.logger.Info("Stopping npamcp service")
	if err := s.toolServer.Stop(); err != nil {
		s.logger.Error("Error stopping tool server", "error", err)
		return err
	}
	if err := s.components.Close(); err != nil {
		s.logger.Error("Failed to close journal", "error", err)
		return err
	}
	s.logger.Info("npamcp service stopped")
	return nil
}

// AnalyzeDependencies lists the policy rules that reference a private app.
func (s *Server) AnalyzeDependencies(ctx context.Context, identifier string) (*policy.Analysis, error) {
	analyzer := s.components.Deleter.Analyzer()
	app, err := analyzer.ResolveApp(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(ctx, app)
}

// DeletePrivateApp runs a deletion request.
func (s *Server) DeletePrivateApp(ctx context.Context, req policy.DeleteRequest) (*policy.Outcome, error) {
	return s.components.Deleter.Delete(ctx, req)
}

// NormalizeSchedule converts either schedule form to "MIN HOUR * * DAY".
func NormalizeSchedule(input string) (string, error) {
	return schedule.Canonicalize(input)
}

// Config returns the configuration used by the server.
func (s *Server) Config() *Config {
	return s.config
}

// Components returns the collaborators used by the server.
func (s *Server) Components() *Components {
	return s.components
}
