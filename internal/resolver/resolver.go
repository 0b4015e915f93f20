// Package resolver turns an operator-supplied identifier (numeric ID or
// display name) into a single resource from a listed collection.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/localrivet/npamcp/internal/errortypes"
)

// Resource is anything that can be looked up by ID or name.
type Resource interface {
	ResourceID() string
	DisplayName() string
}

// ListFunc returns the full current collection.
type ListFunc[T Resource] func(ctx context.Context) ([]T, error)

type options struct {
	caseSensitive bool
	kind          string
}

// Option customizes Resolve.
type Option func(*options)

// CaseSensitive makes name matching exact instead of case-insensitive.
func CaseSensitive() Option {
	return func(o *options) { o.caseSensitive = true }
}

// Kind sets the resource noun used in error messages, e.g. "private app".
func Kind(kind string) Option {
	return func(o *options) { o.kind = kind }
}

// Resolve finds the unique resource matching identifier. An exact ID match
// always wins; otherwise the display name is compared. A miss returns a
// not-found error listing similarly named resources, and a name shared by
// several resources returns a validation error listing their IDs.
func Resolve[T Resource](ctx context.Context, list ListFunc[T], identifier string, opts ...Option) (T, error) {
	var zero T
	o := options{kind: "resource"}
	for _, opt := range opts {
		opt(&o)
	}

	id := strings.TrimSpace(identifier)
	if id == "" {
		return zero, errortypes.FormatError(errors.New("identifier is empty"),
			fmt.Sprintf("a %s name or numeric ID is required", o.kind))
	}

	items, err := list(ctx)
	if err != nil {
		return zero, err
	}

	for _, item := range items {
		if item.ResourceID() == id {
			return item, nil
		}
	}

	var matches []T
	for _, item := range items {
		if namesEqual(item.DisplayName(), id, o.caseSensitive) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ResourceID()
		}
		return zero, errortypes.ValidationError(
			fmt.Errorf("%d %ss are named %q (IDs %s)", len(matches), o.kind, id, strings.Join(ids, ", ")),
			"ambiguous identifier; use the numeric ID").
			WithField("identifier", id).
			WithField("ids", ids)
	}

	suggestions := Suggest(items, id)
	msg := fmt.Sprintf("%s %q not found", o.kind, id)
	if len(suggestions) > 0 {
		msg += "; did you mean: " + strings.Join(suggestions, ", ")
	}
	return zero, errortypes.NotFoundError(errors.New(msg), "lookup failed").
		WithField("identifier", id).
		WithField("suggestions", suggestions)
}

// Exists reports whether identifier resolves to exactly one resource.
// Lookup errors are treated as absence.
func Exists[T Resource](ctx context.Context, list ListFunc[T], identifier string, opts ...Option) bool {
	_, err := Resolve(ctx, list, identifier, opts...)
	return err == nil
}

// Suggest returns "name (ID id)" for every item whose name contains the
// identifier or is contained in it, ignoring case.
func Suggest[T Resource](items []T, identifier string) []string {
	needle := strings.ToLower(identifier)
	var out []string
	for _, item := range items {
		name := strings.ToLower(item.DisplayName())
		if name == "" {
			continue
		}
		if strings.Contains(name, needle) || strings.Contains(needle, name) {
			out = append(out, fmt.Sprintf("%s (ID %s)", item.DisplayName(), item.ResourceID()))
		}
	}
	return out
}

func namesEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}
