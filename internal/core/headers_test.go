// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/sapcc/go-bits/assert"
)

func compilePolicy(t *testing.T, rules []HeaderRule) HeaderPolicy {
	t.Helper()
	policy, err := CompileHeaderPolicy(rules)
	if err != nil {
		t.Fatal(err)
	}
	return policy
}

func TestHeaderPolicyPrecedence(t *testing.T) {
	policy := compilePolicy(t, []HeaderRule{
		{Pattern: `static/`, Headers: map[string]string{
			"Cache-Control":        "max-age=86400",
			"X-Object-Meta-Origin": "rule1",
		}},
		{Pattern: `static/fonts/`, Headers: map[string]string{
			"Access-Control-Allow-Origin": "*",
			"X-Object-Meta-Origin":        "rule2",
		}},
	})

	// later rules overwrite same-named keys of earlier rules
	result, changed := policy.Resolve("static/fonts/icons.woff2", nil, nil)
	assert.DeepEqual(t, "resolved headers", result, map[string]string{
		"Cache-Control":               "max-age=86400",
		"Access-Control-Allow-Origin": "*",
		"X-Object-Meta-Origin":        "rule2",
	})
	if !changed {
		t.Error("expected changed = true when starting from no existing headers")
	}

	// existing header values overwrite rule matches (intentional, see doc comment)
	existing := map[string]string{
		"Content-Type":  "text/css",
		"Cache-Control": "no-cache",
	}
	result, changed = policy.Resolve("static/css/site.css", existing, nil)
	assert.DeepEqual(t, "resolved headers", result, map[string]string{
		"Content-Type":         "text/css",
		"Cache-Control":        "no-cache",
		"X-Object-Meta-Origin": "rule1",
	})
	if !changed {
		t.Error("expected changed = true when rules add headers")
	}

	// explicit headers overwrite everything
	result, _ = policy.Resolve("static/css/site.css", existing, map[string]string{"Cache-Control": "private"})
	if result["Cache-Control"] != "private" {
		t.Errorf("expected explicit Cache-Control to win, got %q", result["Cache-Control"])
	}
}

func TestHeaderPolicyIsIdempotent(t *testing.T) {
	policy := compilePolicy(t, []HeaderRule{
		{Pattern: `media/`, Headers: map[string]string{"Cache-Control": "max-age=300"}},
	})

	existing := map[string]string{"Content-Type": "image/png"}
	explicit := map[string]string{"X-Object-Meta-Owner": "gallery"}

	first, _ := policy.Resolve("media/photo.png", existing, explicit)
	second, changed := policy.Resolve("media/photo.png", first, explicit)
	assert.DeepEqual(t, "second resolution", second, first)
	if changed {
		t.Error("expected changed = false when resolving an already-resolved header set")
	}
}

func TestHeaderPolicyMatchesAtStartOnly(t *testing.T) {
	policy := compilePolicy(t, []HeaderRule{
		{Pattern: `css/`, Headers: map[string]string{"Cache-Control": "max-age=86400"}},
	})

	_, changed := policy.Resolve("static/css/site.css", nil, nil)
	if changed {
		t.Error(`pattern "css/" must not match in the middle of "static/css/site.css"`)
	}
	result, _ := policy.Resolve("css/site.css", nil, nil)
	if result["Cache-Control"] != "max-age=86400" {
		t.Error(`pattern "css/" must match at the start of "css/site.css"`)
	}
}

func TestHeaderPolicySkipsDirectories(t *testing.T) {
	policy := compilePolicy(t, []HeaderRule{
		{Pattern: ``, Headers: map[string]string{"Cache-Control": "max-age=86400"}},
	})

	existing := map[string]string{"Content-Type": DirectoryContentType}
	result, changed := policy.Resolve("static", existing, map[string]string{"X-Object-Meta-Foo": "bar"})
	assert.DeepEqual(t, "resolved headers", result, existing)
	if changed {
		t.Error("expected changed = false for directory placeholder objects")
	}
}

func TestCompileHeaderPolicyRejectsBadPattern(t *testing.T) {
	_, err := CompileHeaderPolicy([]HeaderRule{
		{Pattern: `static/(`, Headers: map[string]string{"Cache-Control": "no-cache"}},
	})
	if err == nil {
		t.Error("expected an error for an unparseable pattern")
	}
}
