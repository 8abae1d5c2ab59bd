// Package validation runs the pre-execution input checks of a stage. Checks
// are structural only (struct tags, JSON schema, pure predicates) and never
// touch the network. Every failure is classified as a validation fault.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/schemas"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator; it caches struct metadata and is safe for concurrent use.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Error describes why a stage input was rejected.
type Error struct {
	Stage   string
	Reasons []string
	Cause   error
}

func (e *Error) Error() string {
	reason := strings.Join(e.Reasons, "; ")
	if e.Stage != "" {
		return fmt.Sprintf("invalid input for stage %s: %s", e.Stage, reason)
	}
	return fmt.Sprintf("invalid input: %s", reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FaultKind implements fault.Kinder.
func (e *Error) FaultKind() fault.Kind {
	return fault.KindValidation
}

// Rule is one structural check.
type Rule func(input any) error

// Struct checks go-playground `validate` tags. Non-struct inputs pass.
func Struct() Rule {
	return func(input any) error {
		v := reflect.ValueOf(input)
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return errors.New("input is nil")
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil
		}
		err := structValidator().Struct(v.Interface())
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fieldErrors(fieldErrs)
		}
		return err
	}
}

// Schema checks input against an embedded JSON schema.
func Schema(name string) Rule {
	return func(input any) error {
		return schemas.ValidateValue(name, input)
	}
}

// Func adapts a typed predicate. The input must already have type T.
func Func[T any](fn func(T) error) Rule {
	return func(input any) error {
		v, ok := input.(T)
		if !ok {
			var zero T
			return fmt.Errorf("expected %T, got %T", zero, input)
		}
		return fn(v)
	}
}

// Check runs rules in order and returns the first failure wrapped in *Error.
func Check(stageID string, input any, rules ...Rule) error {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		if err := rule(input); err != nil {
			return &Error{Stage: stageID, Reasons: reasons(err), Cause: err}
		}
	}
	return nil
}

type multiError []string

func (m multiError) Error() string { return strings.Join(m, "; ") }

func fieldErrors(errs validator.ValidationErrors) error {
	out := make(multiError, 0, len(errs))
	for _, fe := range errs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s failed %s=%s", ns, fe.Tag(), fe.Param()))
		} else {
			out = append(out, fmt.Sprintf("%s failed %s", ns, fe.Tag()))
		}
	}
	return out
}

func reasons(err error) []string {
	var m multiError
	if errors.As(err, &m) {
		return []string(m)
	}
	var se *schemas.ValidationError
	if errors.As(err, &se) {
		out := make([]string, 0, len(se.Errors))
		for _, fe := range se.Errors {
			out = append(out, fe.Field+": "+fe.Message)
		}
		return out
	}
	return []string{err.Error()}
}

// Value validates v with the shared struct validator; used for config and other non-stage structs.
func Value(v any) error {
	return Struct()(v)
}
