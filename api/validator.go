package main

import (
	"errors"
	"sort"
	"strings"
)

type validator struct {
	errors map[string]string
}

func newValidator() *validator {
	return &validator{
		errors: make(map[string]string),
	}
}

// toError joins the collected failures as "field: message" pairs, sorted by
// field so the message is stable.
func (v *validator) toError() error {
	if v == nil || len(v.errors) == 0 {
		return errors.New("invalid input")
	}
	keys := make([]string, 0, len(v.errors))
	for k := range v.errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.errors[k])
	}
	return errors.New(strings.Join(parts, "; "))
}

func (v *validator) hasErrors() bool {
	return len(v.errors) != 0
}

func (v *validator) checkCond(cond bool, key, msg string) {
	if cond {
		return
	}
	if _, ok := v.errors[key]; !ok {
		v.errors[key] = msg
	}
}

// checkRequired only checks presence. Identities are not format-checked on
// the server.
func (v *validator) checkRequired(value, key string) {
	v.checkCond(value != "", key, "must be provided")
}
