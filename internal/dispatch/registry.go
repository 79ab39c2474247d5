// internal/dispatch/registry.go
//
// Action registry and handler contract.
//
// Context
// -------
// Handlers are registered at startup as Sets: one Set per URL class
// segment, holding named Methods.  A Method's Fn must match one of the
// allowed signatures below; anything else is a configuration error
// raised at dispatch time, not tolerated at runtime.
//
// Allowed signatures — arity zero, context-only, or context plus the
// unconsumed path segments; returning nothing, a continue/stop bool, an
// error, an Outcome, or an (Outcome, error) pair:
//
//	func()
//	func() bool
//	func(*web.Context)
//	func(*web.Context) bool
//	func(*web.Context) error
//	func(*web.Context) Outcome
//	func(*web.Context) (Outcome, error)
//	func(*web.Context, []string)            — and the same four returns
//
// A bare return means "stop, do not render"; bool decides continue/stop;
// an Outcome can additionally carry a value to write through the
// context's output helper.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strandweb/strand/internal/web"
)

// Verb restricts a Method to one HTTP method.  A mismatch is treated as
// "handler not found" and continues the fallback chain; it is not an
// immediate 405.
type Verb int

const (
	AnyVerb Verb = iota
	GET
	POST
)

func (v Verb) allows(httpMethod string) bool {
	switch v {
	case GET:
		return httpMethod == "GET"
	case POST:
		return httpMethod == "POST"
	default:
		return true
	}
}

// ErrMethodNotAllowed is the explicit 405 signal a handler raises when
// it owns the route but rejects the verb.
var ErrMethodNotAllowed = errors.New("method not allowed")

// ErrForbidden is the explicit access-denied signal, surfaced as 403.
var ErrForbidden = errors.New("forbidden")

// BadHandlerError marks a handler whose signature is outside the allowed
// set.  It is a deployment defect, fatal to the request.
type BadHandlerError struct {
	Set    string
	Method string
}

func (e *BadHandlerError) Error() string {
	return fmt.Sprintf("dispatch: invalid handler signature %s.%s", e.Set, e.Method)
}

/*──────────────────────────── outcomes ────────────────────────────────────*/

type outcomeKind int

const (
	kindStop outcomeKind = iota
	kindContinue
	kindOutput
)

// Outcome is a handler's tagged verdict: stop, continue to the view, or
// write a value and stop.
type Outcome struct {
	kind  outcomeKind
	value any
}

// Stop ends the request without rendering a view.
func Stop() Outcome { return Outcome{kind: kindStop} }

// Continue hands the request to view resolution.
func Continue() Outcome { return Outcome{kind: kindContinue} }

// Output writes v through the request context and stops.  A structured
// API result becomes its JSON contract.
func Output(v any) Outcome { return Outcome{kind: kindOutput, value: v} }

/*──────────────────────────── registry ────────────────────────────────────*/

// Method is one named handler with an optional verb restriction.
type Method struct {
	Name string
	Verb Verb
	Fn   any
}

// Set groups the methods reachable under one class segment.
type Set struct {
	Name    string
	Methods []Method
}

// method returns the first declared method matching name.  Duplicate
// names on one set are not supported; the first declaration wins.
func (s *Set) method(name string) *Method {
	for i := range s.Methods {
		if s.Methods[i].Name == name {
			return &s.Methods[i]
		}
	}
	return nil
}

// call invokes m's Fn against the allowed signature set and normalizes
// the result to an Outcome.
func (m *Method) call(set string, ctx *web.Context, args []string) (Outcome, error) {
	switch fn := m.Fn.(type) {
	case func():
		fn()
		return Stop(), nil
	case func() bool:
		return boolOutcome(fn()), nil
	case func(*web.Context):
		fn(ctx)
		return Stop(), nil
	case func(*web.Context) bool:
		return boolOutcome(fn(ctx)), nil
	case func(*web.Context) error:
		return Stop(), fn(ctx)
	case func(*web.Context) Outcome:
		return fn(ctx), nil
	case func(*web.Context) (Outcome, error):
		return fn(ctx)
	case func(*web.Context, []string):
		fn(ctx, args)
		return Stop(), nil
	case func(*web.Context, []string) bool:
		return boolOutcome(fn(ctx, args)), nil
	case func(*web.Context, []string) error:
		return Stop(), fn(ctx, args)
	case func(*web.Context, []string) Outcome:
		return fn(ctx, args), nil
	case func(*web.Context, []string) (Outcome, error):
		return fn(ctx, args)
	default:
		return Stop(), &BadHandlerError{Set: set, Method: m.Name}
	}
}

func boolOutcome(cont bool) Outcome {
	if cont {
		return Continue()
	}
	return Stop()
}

// normalizeSetName folds a URL class segment onto its registry key.
func normalizeSetName(segment string) string {
	return strings.ToLower(segment)
}
