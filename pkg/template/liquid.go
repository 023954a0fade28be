// Package template resolves agent options that contain Liquid expressions.
//
// {{ field }} reads from the triggering event's payload and
// {% credential NAME %} substitutes a stored credential of the agent's owner.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/osteele/liquid"
	"github.com/osteele/liquid/render"

	"github.com/venkytv/calendar-publisher/pkg/credentials"
)

const credentialTag = "credential"

// Interpolator renders a single template string against event bindings
type Interpolator interface {
	Interpolate(ctx context.Context, owner, source string, bindings map[string]any) (string, error)
}

// Liquid is an Interpolator backed by github.com/osteele/liquid
type Liquid struct {
	credentials credentials.Store
}

var _ Interpolator = (*Liquid)(nil)

// NewLiquid creates a Liquid interpolator. A nil store makes every
// credential reference fail.
func NewLiquid(store credentials.Store) *Liquid {
	return &Liquid{credentials: store}
}

// Interpolate renders source. Strings without template markers are returned unchanged.
func (l *Liquid) Interpolate(ctx context.Context, owner, source string, bindings map[string]any) (string, error) {
	if !HasTemplate(source) {
		return source, nil
	}
	if err := checkDelimiters(source); err != nil {
		return "", &ConfigResolutionError{Template: source, Err: err}
	}

	// The credential tag needs the caller's context and owner, so each
	// render gets its own engine.
	engine := liquid.NewEngine()
	var lookupErr error
	engine.RegisterTag(credentialTag, func(rc render.Context) (string, error) {
		name := strings.TrimSpace(rc.TagArgs())
		if name == "" {
			lookupErr = errors.New("credential tag requires a name")
			return "", lookupErr
		}
		if l.credentials == nil {
			lookupErr = fmt.Errorf("%w: %q for user %q", credentials.ErrNotFound, name, owner)
			return "", lookupErr
		}
		value, err := l.credentials.Lookup(ctx, owner, name)
		if err != nil {
			lookupErr = err
			return "", err
		}
		return value, nil
	})

	out, sourceErr := engine.ParseAndRenderString(source, bindings)
	if sourceErr != nil {
		var cause error = sourceErr
		if lookupErr != nil {
			cause = lookupErr
		}
		return "", &ConfigResolutionError{Template: source, Err: cause}
	}

	return out, nil
}

// HasTemplate reports whether s contains Liquid output or tag markers
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// checkDelimiters rejects output and tag markers without a closing
// delimiter, which the engine would otherwise render as literal text.
func checkDelimiters(source string) error {
	rest := source
	for {
		open := strings.Index(rest, "{{")
		closer := "}}"
		if tag := strings.Index(rest, "{%"); tag >= 0 && (open < 0 || tag < open) {
			open, closer = tag, "%}"
		}
		if open < 0 {
			return nil
		}
		rest = rest[open+2:]
		end := strings.Index(rest, closer)
		if end < 0 {
			if closer == "}}" {
				return errors.New("variable was not properly terminated with '}}'")
			}
			return errors.New("tag was not properly terminated with '%}'")
		}
		rest = rest[end+2:]
	}
}

// InterpolateOptions returns a copy of options with every string leaf
// interpolated against payload. Nested maps and slices are walked.
func InterpolateOptions(ctx context.Context, interp Interpolator, owner string, options, payload map[string]any) (map[string]any, error) {
	resolved, err := interpolateValue(ctx, interp, owner, "", options, payload)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	return out, nil
}

func interpolateValue(ctx context.Context, interp Interpolator, owner, path string, value any, payload map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		out, err := interp.Interpolate(ctx, owner, v, payload)
		if err != nil {
			var resolutionErr *ConfigResolutionError
			if errors.As(err, &resolutionErr) {
				if resolutionErr.Field == "" {
					resolutionErr.Field = path
				}
				return nil, resolutionErr
			}
			return nil, &ConfigResolutionError{Field: path, Template: v, Err: err}
		}
		return out, nil

	case map[string]any:
		if v == nil {
			return map[string]any(nil), nil
		}
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := interpolateValue(ctx, interp, owner, joinPath(path, key), item, payload)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := interpolateValue(ctx, interp, owner, fmt.Sprintf("%s[%d]", path, i), item, payload)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
