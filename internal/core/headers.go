// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"maps"
	"regexp"

	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/regexpext"
)

// DirectoryContentType marks directory placeholder objects. Objects with this
// content type never have headers applied to them.
const DirectoryContentType = "application/directory"

// HeaderRule pairs an object name pattern with the headers that objects
// matching it shall carry. The pattern matches at the start of the object name
// (like a "starts-with" check), not anywhere inside it.
type HeaderRule struct {
	Pattern regexpext.PlainRegexp `yaml:"match"`
	Headers map[string]string     `yaml:"headers"`
}

func (r HeaderRule) validate(path string) (errs errext.ErrorSet) {
	if r.Pattern == "" {
		errs.Addf("missing configuration value: %s.match", path)
	}
	if len(r.Headers) == 0 {
		errs.Addf("missing configuration value: %s.headers", path)
	}
	return errs
}

// HeaderPolicy is the compiled form of an ordered HeaderRule list. It is built
// once at startup and immutable afterwards, so it can be shared freely between
// execution contexts.
type HeaderPolicy struct {
	rules []compiledHeaderRule
}

type compiledHeaderRule struct {
	rx      *regexp.Regexp
	headers map[string]string
}

// CompileHeaderPolicy compiles the given rules in declaration order. Each
// pattern is anchored at the start of the object name.
func CompileHeaderPolicy(rules []HeaderRule) (HeaderPolicy, error) {
	compiled := make([]compiledHeaderRule, len(rules))
	for idx, rule := range rules {
		rx, err := regexp.Compile(`^(?:` + string(rule.Pattern) + `)`)
		if err != nil {
			return HeaderPolicy{}, fmt.Errorf("invalid header rule pattern %q: %w", string(rule.Pattern), err)
		}
		compiled[idx] = compiledHeaderRule{rx, maps.Clone(rule.Headers)}
	}
	return HeaderPolicy{compiled}, nil
}

// Resolve computes the final header set for the object with the given name.
//
// Starting from an empty set, the header mappings of all matching rules are
// merged in declaration order, then the object's existing headers, then the
// explicitly requested headers. Hence existing header values take precedence
// over rule matches, and explicit headers take precedence over everything.
// (The existing-over-rules order is intentional and mirrors the behavior that
// deployments rely on; do not "fix" it.)
//
// Objects with the directory placeholder content type are left untouched.
//
// Resolve is pure: the second return value tells the caller whether the result
// differs from the existing headers and therefore needs to be pushed to the
// object's metadata.
func (p HeaderPolicy) Resolve(objectName string, existing, explicit map[string]string) (map[string]string, bool) {
	if existing["Content-Type"] == DirectoryContentType {
		return existing, false
	}

	result := make(map[string]string)
	for _, rule := range p.rules {
		if rule.rx.MatchString(objectName) {
			maps.Copy(result, rule.headers)
		}
	}
	maps.Copy(result, existing)
	maps.Copy(result, explicit)

	return result, !maps.Equal(result, existing)
}
