package bot

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ScalarKind names the primitive type a scalar or array parameter coerces
// its matched token(s) into.
type ScalarKind int

const (
	KindString ScalarKind = iota
	KindInt
	KindFloat
	KindBool
)

type paramKind int

const (
	paramScalar paramKind = iota
	paramArray
	paramRest
	paramCommandName
)

// Validator inspects a parameter's matched raw text after binding and
// returns an error if it fails validation.
type Validator func(name, raw string) error

// Required rejects an empty match.
func Required() Validator {
	return func(name, raw string) error {
		if raw == "" {
			return errors.Errorf("%s is required", name)
		}
		return nil
	}
}

// Range rejects a numeric match outside [min, max]; empty and non-numeric
// matches pass this validator unchecked.
func Range(min, max float64) Validator {
	return func(name, raw string) error {
		if raw == "" {
			return nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		if f < min || f > max {
			return errors.Errorf("%s must be between %v and %v", name, min, max)
		}
		return nil
	}
}

// Param is one ordered slot in a command's parameter schema, built
// explicitly by the registering code rather than discovered through
// reflection over annotated methods.
type Param struct {
	Name       string
	kind       paramKind
	scalar     ScalarKind
	validators []Validator
}

// StringParam, IntParam, FloatParam, and BoolParam each consume one
// whitespace-delimited token, coerced to the named type; a coercion
// failure leaves the value at the type's zero and does not consume the
// token.
func StringParam(name string, v ...Validator) Param {
	return Param{Name: name, kind: paramScalar, scalar: KindString, validators: v}
}

func IntParam(name string, v ...Validator) Param {
	return Param{Name: name, kind: paramScalar, scalar: KindInt, validators: v}
}

func FloatParam(name string, v ...Validator) Param {
	return Param{Name: name, kind: paramScalar, scalar: KindFloat, validators: v}
}

func BoolParam(name string, v ...Validator) Param {
	return Param{Name: name, kind: paramScalar, scalar: KindBool, validators: v}
}

// ArrayParam consumes as many consecutive tokens as parse successfully as
// elem, then stops.
func ArrayParam(name string, elem ScalarKind, v ...Validator) Param {
	return Param{Name: name, kind: paramArray, scalar: elem, validators: v}
}

// RestParam receives everything after the last successfully-bound
// positional parameter, preserving internal spacing.
func RestParam(name string, v ...Validator) Param { return Param{Name: name, kind: paramRest, validators: v} }

// CommandNameParam receives the matched command verb.
func CommandNameParam(name string) Param { return Param{Name: name, kind: paramCommandName} }

// token is one whitespace-delimited slice of rawArgs, with its starting
// byte offset so RestParam can recover the original spacing.
type token struct {
	text  string
	start int
}

func tokenize(rawArgs string) []token {
	var toks []token
	i, n := 0, len(rawArgs)
	for i < n {
		for i < n && rawArgs[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && rawArgs[i] != ' ' {
			i++
		}
		toks = append(toks, token{text: rawArgs[start:i], start: start})
	}
	return toks
}

func parseScalar(raw string, kind ScalarKind) (ok bool) {
	switch kind {
	case KindString:
		return true
	case KindInt:
		_, err := strconv.ParseInt(raw, 10, 64)
		return err == nil
	case KindFloat:
		_, err := strconv.ParseFloat(raw, 64)
		return err == nil
	case KindBool:
		_, err := strconv.ParseBool(raw)
		return err == nil
	}
	return false
}

// BoundArgs is the result of binding a command's Param schema against one
// invocation's tokens; handlers read values back out by parameter name.
type BoundArgs struct {
	strs        map[string]string
	ints        map[string]int64
	floats      map[string]float64
	bools       map[string]bool
	arrays      map[string][]string
	rest        string
	commandName string
}

func newBoundArgs() *BoundArgs {
	return &BoundArgs{
		strs:   map[string]string{},
		ints:   map[string]int64{},
		floats: map[string]float64{},
		bools:  map[string]bool{},
		arrays: map[string][]string{},
	}
}

func (b *BoundArgs) String(name string) string { return b.strs[name] }
func (b *BoundArgs) Int(name string) int64     { return b.ints[name] }
func (b *BoundArgs) Float(name string) float64 { return b.floats[name] }
func (b *BoundArgs) Bool(name string) bool     { return b.bools[name] }
func (b *BoundArgs) Array(name string) []string { return b.arrays[name] }
func (b *BoundArgs) Rest() string               { return b.rest }
func (b *BoundArgs) CommandName() string        { return b.commandName }

// ValidationError reports a failed parameter validator, surfaced to the
// invoker as a NOTICE; the handler is not invoked.
type ValidationError struct {
	Param string
	Err   error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// bind walks params in order against verb/rawArgs, producing a BoundArgs
// or the first ValidationError encountered.
func bind(params []Param, verb, rawArgs string) (*BoundArgs, error) {
	toks := tokenize(rawArgs)
	b := newBoundArgs()
	idx := 0

	for _, p := range params {
		var raw string
		switch p.kind {
		case paramCommandName:
			b.commandName = verb
			continue
		case paramRest:
			if idx < len(toks) {
				raw = rawArgs[toks[idx].start:]
			}
			b.rest = raw
		case paramArray:
			var arr []string
			for idx < len(toks) && parseScalar(toks[idx].text, p.scalar) {
				arr = append(arr, toks[idx].text)
				idx++
			}
			b.arrays[p.Name] = arr
			raw = strings.Join(arr, " ")
		case paramScalar:
			if idx < len(toks) {
				raw = toks[idx].text
			}
			ok := idx < len(toks) && parseScalar(raw, p.scalar)
			if ok {
				idx++
			} else {
				raw = ""
			}
			assignScalar(b, p.Name, p.scalar, raw)
		}

		for _, v := range p.validators {
			if err := v(p.Name, raw); err != nil {
				return b, &ValidationError{Param: p.Name, Err: err}
			}
		}
	}
	return b, nil
}

func assignScalar(b *BoundArgs, name string, kind ScalarKind, raw string) {
	switch kind {
	case KindString:
		b.strs[name] = raw
	case KindInt:
		n, _ := strconv.ParseInt(raw, 10, 64)
		b.ints[name] = n
	case KindFloat:
		f, _ := strconv.ParseFloat(raw, 64)
		b.floats[name] = f
	case KindBool:
		v, _ := strconv.ParseBool(raw)
		b.bools[name] = v
	}
}
