package npa

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/localrivet/npamcp/internal/apiclient"
	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/resolver"
	"github.com/localrivet/npamcp/internal/schedule"
)

// Resource API paths.
const (
	PathPrivateApps     = "/steering/apps/private"
	PathPolicyRules     = "/policy/npa/rules"
	PathPublishers      = "/infrastructure/publishers"
	PathLocalBrokers    = "/infrastructure/lbrokers"
	PathUpgradeProfiles = "/infrastructure/publisherupgradeprofiles"
)

// Requester is the part of *apiclient.Client that API needs.
type Requester interface {
	RequestWithRetry(ctx context.Context, path string, opts apiclient.RequestOptions, out any) error
}

// ReadOption adjusts a read call.
type ReadOption func(*apiclient.RequestOptions)

// Fresh bypasses the response cache.
func Fresh() ReadOption {
	return func(o *apiclient.RequestOptions) { o.Fresh = true }
}

// API wraps the Resource API endpoints.
type API struct {
	client Requester
}

// New returns an API that sends every call through client.
func New(client Requester) *API {
	return &API{client: client}
}

func (a *API) get(ctx context.Context, path string, out any, opts []ReadOption) error {
	ro := apiclient.RequestOptions{Method: http.MethodGet}
	for _, opt := range opts {
		opt(&ro)
	}
	return a.call(ctx, path, ro, out)
}

func (a *API) call(ctx context.Context, path string, ro apiclient.RequestOptions, out any) error {
	var env apiclient.Envelope
	if err := a.client.RequestWithRetry(ctx, path, ro, &env); err != nil {
		return err
	}
	if out == nil {
		if strings.EqualFold(env.Status, "error") {
			return env.Decode(nil)
		}
		return nil
	}
	return env.Decode(out)
}

// ListPrivateApps returns every private app.
func (a *API) ListPrivateApps(ctx context.Context, opts ...ReadOption) ([]PrivateApp, error) {
	var apps []PrivateApp
	if err := a.get(ctx, PathPrivateApps, &apps, opts); err != nil {
		return nil, err
	}
	return apps, nil
}

// GetPrivateApp returns one private app by ID.
func (a *API) GetPrivateApp(ctx context.Context, id int, opts ...ReadOption) (PrivateApp, error) {
	var app PrivateApp
	err := a.get(ctx, fmt.Sprintf("%s/%d", PathPrivateApps, id), &app, opts)
	return app, err
}

// DeletePrivateApp removes a private app.
func (a *API) DeletePrivateApp(ctx context.Context, id int) error {
	return a.call(ctx, fmt.Sprintf("%s/%d", PathPrivateApps, id),
		apiclient.RequestOptions{Method: http.MethodDelete}, nil)
}

// ListPolicyRules returns every access policy rule.
func (a *API) ListPolicyRules(ctx context.Context, opts ...ReadOption) ([]PolicyRule, error) {
	var rules []PolicyRule
	if err := a.get(ctx, PathPolicyRules, &rules, opts); err != nil {
		return nil, err
	}
	return rules, nil
}

// UpdatePolicyRule replaces the rule's name and rule data.
func (a *API) UpdatePolicyRule(ctx context.Context, rule PolicyRule) error {
	return a.call(ctx, fmt.Sprintf("%s/%d", PathPolicyRules, rule.ID),
		apiclient.RequestOptions{Method: http.MethodPatch, Body: rule}, nil)
}

// DeletePolicyRule removes a rule.
func (a *API) DeletePolicyRule(ctx context.Context, id int) error {
	return a.call(ctx, fmt.Sprintf("%s/%d", PathPolicyRules, id),
		apiclient.RequestOptions{Method: http.MethodDelete}, nil)
}

// ListPublishers returns every publisher.
func (a *API) ListPublishers(ctx context.Context, opts ...ReadOption) ([]Publisher, error) {
	var pubs []Publisher
	if err := a.get(ctx, PathPublishers, &pubs, opts); err != nil {
		return nil, err
	}
	return pubs, nil
}

// GetPublisher returns one publisher by ID.
func (a *API) GetPublisher(ctx context.Context, id int, opts ...ReadOption) (Publisher, error) {
	var pub Publisher
	err := a.get(ctx, fmt.Sprintf("%s/%d", PathPublishers, id), &pub, opts)
	return pub, err
}

// ListLocalBrokers returns every local broker.
func (a *API) ListLocalBrokers(ctx context.Context, opts ...ReadOption) ([]LocalBroker, error) {
	var brokers []LocalBroker
	if err := a.get(ctx, PathLocalBrokers, &brokers, opts); err != nil {
		return nil, err
	}
	return brokers, nil
}

// ListUpgradeProfiles returns every publisher upgrade profile.
func (a *API) ListUpgradeProfiles(ctx context.Context, opts ...ReadOption) ([]UpgradeProfile, error) {
	var profiles []UpgradeProfile
	if err := a.get(ctx, PathUpgradeProfiles, &profiles, opts); err != nil {
		return nil, err
	}
	return profiles, nil
}

// CreateUpgradeProfile canonicalizes the schedule and creates a profile.
func (a *API) CreateUpgradeProfile(ctx context.Context, in UpgradeProfileInput) (UpgradeProfile, error) {
	body, err := prepareProfile(in)
	if err != nil {
		return UpgradeProfile{}, err
	}
	var created UpgradeProfile
	err = a.call(ctx, PathUpgradeProfiles, apiclient.RequestOptions{Method: http.MethodPost, Body: body}, &created)
	return created, err
}

// UpdateUpgradeProfile canonicalizes the schedule and updates a profile.
func (a *API) UpdateUpgradeProfile(ctx context.Context, id int, in UpgradeProfileInput) (UpgradeProfile, error) {
	body, err := prepareProfile(in)
	if err != nil {
		return UpgradeProfile{}, err
	}
	var updated UpgradeProfile
	err = a.call(ctx, fmt.Sprintf("%s/%d", PathUpgradeProfiles, id),
		apiclient.RequestOptions{Method: http.MethodPut, Body: body}, &updated)
	return updated, err
}

func prepareProfile(in UpgradeProfileInput) (UpgradeProfileInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, errortypes.ValidationError(fmt.Errorf("name is empty"), "invalid upgrade profile")
	}
	frequency, err := schedule.Canonicalize(in.Frequency)
	if err != nil {
		return in, err
	}
	in.Frequency = frequency
	return in, nil
}

// PrivateApps adapts ListPrivateApps for the resolver.
func (a *API) PrivateApps(opts ...ReadOption) resolver.ListFunc[PrivateApp] {
	return func(ctx context.Context) ([]PrivateApp, error) { return a.ListPrivateApps(ctx, opts...) }
}

// Publishers adapts ListPublishers for the resolver.
func (a *API) Publishers(opts ...ReadOption) resolver.ListFunc[Publisher] {
	return func(ctx context.Context) ([]Publisher, error) { return a.ListPublishers(ctx, opts...) }
}

// UpgradeProfiles adapts ListUpgradeProfiles for the resolver.
func (a *API) UpgradeProfiles(opts ...ReadOption) resolver.ListFunc[UpgradeProfile] {
	return func(ctx context.Context) ([]UpgradeProfile, error) { return a.ListUpgradeProfiles(ctx, opts...) }
}

// ResolvePrivateApp finds a private app by ID or name.
func (a *API) ResolvePrivateApp(ctx context.Context, identifier string, opts ...ReadOption) (PrivateApp, error) {
	return resolver.Resolve(ctx, a.PrivateApps(opts...), identifier, resolver.Kind("private app"))
}

// ResolvePublisher finds a publisher by ID or name.
func (a *API) ResolvePublisher(ctx context.Context, identifier string) (Publisher, error) {
	return resolver.Resolve(ctx, a.Publishers(), identifier, resolver.Kind("publisher"))
}

// ResolveUpgradeProfile finds an upgrade profile by ID or name.
func (a *API) ResolveUpgradeProfile(ctx context.Context, identifier string) (UpgradeProfile, error) {
	return resolver.Resolve(ctx, a.UpgradeProfiles(), identifier, resolver.Kind("upgrade profile"))
}
