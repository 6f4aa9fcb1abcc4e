// Package rpcconfig is rpchost's layered configuration engine: every
// process-wide or per-manager setting is declared as an Item with a
// hard-coded default, resolved through system/user config files and the
// environment, and optionally overridden at runtime through the config
// built-in service.
package rpcconfig

import (
	"regexp"
	"strconv"

	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

// namePattern is the only shape a config item name may take: lowercase,
// starting with a letter, dashes allowed as separators.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Kind distinguishes framework-level items (declared once by the host
// itself, never persisted across restarts) from manager-declared items
// (persisted to workspace/config.json when overridden via config.set).
type Kind int

const (
	KindStatic Kind = iota
	KindUser
)

// Validator validates a raw string value, returning a descriptive error if
// it is not acceptable for the item it is attached to.
type Validator func(value string) error

// Item is the static declaration of one configuration entry: its name, kind,
// validator and hard-coded (compile-time) default. Register every Item
// before calling Engine.Load.
type Item struct {
	Name             string
	Kind             Kind
	Validator        rpcapi.ConfigValidator
	Custom           Validator // used only when Validator == ValidatorCustom
	HardCodedDefault string

	// CanBeEmpty allows "" as a legal value regardless of Validator; every
	// built-in validator otherwise rejects an empty input.
	CanBeEmpty bool
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return rpcerr.Newf(rpcapi.ErrorModelInvalid, "invalid config item name %q: must match [a-z][a-z0-9-]*", name)
	}
	return nil
}

func validateInt(v string) error {
	_, err := strconv.Atoi(v)
	if err != nil {
		return rpcerr.Newf(rpcapi.ErrorParamInvalid, "not an integer: %q", v)
	}
	return nil
}

func validatePosInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return rpcerr.Newf(rpcapi.ErrorParamInvalid, "not a positive integer: %q", v)
	}
	return nil
}

func validateFloat(v string) error {
	_, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return rpcerr.Newf(rpcapi.ErrorParamInvalid, "not a float: %q", v)
	}
	return nil
}

func validatePosFloat(v string) error {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		return rpcerr.Newf(rpcapi.ErrorParamInvalid, "not a positive float: %q", v)
	}
	return nil
}

// builtinValidators maps the closed rpcapi.ConfigValidator enum onto actual
// validation functions. ValidatorString has no check. ValidatorCustom is
// handled separately via Item.Custom.
var builtinValidators = map[rpcapi.ConfigValidator]Validator{
	rpcapi.ValidatorString:   func(string) error { return nil },
	rpcapi.ValidatorInt:      validateInt,
	rpcapi.ValidatorPosInt:   validatePosInt,
	rpcapi.ValidatorFloat:    validateFloat,
	rpcapi.ValidatorPosFloat: validatePosFloat,
}

func (it Item) validate(value string) error {
	if value == "" {
		if it.CanBeEmpty {
			return nil
		}
		return rpcerr.Newf(rpcapi.ErrorParamInvalid, "item %q cannot be empty", it.Name)
	}
	if it.Validator == rpcapi.ValidatorCustom {
		if it.Custom == nil {
			return rpcerr.Newf(rpcapi.ErrorModelInvalid, "item %q declares a custom validator but none was provided", it.Name)
		}
		return it.Custom(value)
	}
	fn, ok := builtinValidators[it.Validator]
	if !ok {
		return rpcerr.Newf(rpcapi.ErrorModelInvalid, "item %q has an unknown validator", it.Name)
	}
	return fn(value)
}
