package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/npamcp/internal/errortypes"
)

type item struct {
	id   string
	name string
}

func (i item) ResourceID() string  { return i.id }
func (i item) DisplayName() string { return i.name }

func staticList(items ...item) ListFunc[item] {
	return func(context.Context) ([]item, error) { return items, nil }
}

func TestResolveIDWinsOverName(t *testing.T) {
	list := staticList(
		item{id: "7", name: "app-123-mirror"},
		item{id: "123", name: "billing"},
		item{id: "9", name: "123"},
	)

	got, err := Resolve(context.Background(), list, "123")
	require.NoError(t, err)
	assert.Equal(t, "billing", got.name)
}

func TestResolveByName(t *testing.T) {
	list := staticList(item{id: "1", name: "Jira"}, item{id: "2", name: "Confluence"})

	got, err := Resolve(context.Background(), list, "  jira ")
	require.NoError(t, err)
	assert.Equal(t, "1", got.id)

	_, err = Resolve(context.Background(), list, "jira", CaseSensitive())
	assert.True(t, errortypes.IsNotFoundError(err))

	got, err = Resolve(context.Background(), list, "Jira", CaseSensitive())
	require.NoError(t, err)
	assert.Equal(t, "1", got.id)
}

func TestResolveMissIncludesSuggestions(t *testing.T) {
	list := staticList(
		item{id: "1", name: "jira-prod"},
		item{id: "2", name: "jira"},
		item{id: "3", name: "wiki"},
	)

	_, err := Resolve(context.Background(), list, "jira-pro", Kind("private app"))
	require.Error(t, err)
	assert.True(t, errortypes.IsNotFoundError(err))
	assert.Contains(t, err.Error(), `private app "jira-pro" not found`)
	assert.Contains(t, err.Error(), "jira-prod (ID 1)")
	assert.Contains(t, err.Error(), "jira (ID 2)")
	assert.NotContains(t, err.Error(), "wiki")
}

func TestResolveAmbiguousName(t *testing.T) {
	list := staticList(item{id: "1", name: "dup"}, item{id: "2", name: "DUP"})

	_, err := Resolve(context.Background(), list, "dup")
	require.Error(t, err)
	assert.True(t, errortypes.IsValidationError(err))
	assert.Contains(t, err.Error(), "IDs 1, 2")
}

func TestResolveEmptyIdentifier(t *testing.T) {
	_, err := Resolve(context.Background(), staticList(), "   ")
	assert.True(t, errortypes.IsFormatError(err))
}

func TestResolvePropagatesListError(t *testing.T) {
	boom := errors.New("backend down")
	list := func(context.Context) ([]item, error) { return nil, boom }

	_, err := Resolve[item](context.Background(), list, "x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, Exists[item](context.Background(), list, "x"))
}

func TestExists(t *testing.T) {
	list := staticList(item{id: "5", name: "gitlab"})

	assert.True(t, Exists(context.Background(), list, "5"))
	assert.True(t, Exists(context.Background(), list, "GitLab"))
	assert.False(t, Exists(context.Background(), list, "github"))
}
