/*
 * Copyright 2025 the plover authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/uptrace/bun"
)

func TestNormalizeHookCanonical(t *testing.T) {
	var got interface{}
	h, err := NormalizeHook(func(ctx context.Context, model interface{}) error {
		got = model
		return nil
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := h(context.Background(), "payload"); err != nil {
		t.Fatalf("hook returned error: %v", err)
	}
	if got != "payload" {
		t.Fatalf("expected model to be passed through, got %v", got)
	}
}

func TestNormalizeHookCoercions(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name string
		fn   interface{}
	}{
		{"model only", func(model interface{}) error { return boom }},
		{"context only", func(ctx context.Context) error { return boom }},
		{"no arguments", func() error { return boom }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NormalizeHook(tc.fn)
			if err != nil {
				t.Fatalf("normalize failed: %v", err)
			}
			if err := h(context.Background(), nil); !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
		})
	}
}

func TestNormalizeHookUnsupported(t *testing.T) {
	if _, err := NormalizeHook(42); err == nil {
		t.Fatal("expected error for non-function hook")
	}
	if _, err := NormalizeHook(func(a, b, c string) {}); err == nil {
		t.Fatal("expected error for unsupported signature")
	}
}

func TestNormalizeScope(t *testing.T) {
	called := false
	s, err := NormalizeScope(func(q *bun.SelectQuery) *bun.SelectQuery {
		called = true
		return q
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	s(nil)
	if !called {
		t.Fatal("scope function was not invoked")
	}
}

func TestNormalizeScopeLazyThunk(t *testing.T) {
	built := 0
	s, err := NormalizeScope(func() Scope {
		built++
		return func(q *bun.SelectQuery) *bun.SelectQuery { return q }
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if built != 0 {
		t.Fatal("thunk evaluated at registration time")
	}
	s(nil)
	s(nil)
	if built != 2 {
		t.Fatalf("expected thunk evaluated per application, got %d", built)
	}
}

func TestNormalizeScopeUnsupported(t *testing.T) {
	if _, err := NormalizeScope("not a scope"); err == nil {
		t.Fatal("expected error for non-function scope")
	}
}
