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
	"fmt"

	"github.com/uptrace/bun"
)

// HookType names a lifecycle point around persistence operations.
type HookType string

const (
	BeforeCreate HookType = "beforeCreate"
	AfterCreate  HookType = "afterCreate"
	BeforeUpdate HookType = "beforeUpdate"
	AfterUpdate  HookType = "afterUpdate"
	BeforeDelete HookType = "beforeDelete"
	AfterDelete  HookType = "afterDelete"
	BeforeSave   HookType = "beforeSave"
	AfterSave    HookType = "afterSave"
)

// HookHandler is the canonical hook signature. Every declared handler is
// coerced to this shape at registration time, so callers deal with exactly
// one result type: an error.
type HookHandler func(ctx context.Context, model interface{}) error

// NormalizeHook coerces a declared hook handler into the canonical
// HookHandler shape. Accepted shapes, checked in order:
//
//	HookHandler
//	func(context.Context, interface{}) error
//	func(interface{}) error
//	func(context.Context) error
//	func() error
//
// Anything else is a registration error. Normalizing a canonical handler
// returns it unchanged, so the transform is idempotent.
func NormalizeHook(fn interface{}) (HookHandler, error) {
	switch h := fn.(type) {
	case HookHandler:
		return h, nil
	case func(context.Context, interface{}) error:
		return h, nil
	case func(interface{}) error:
		return func(_ context.Context, model interface{}) error {
			return h(model)
		}, nil
	case func(context.Context) error:
		return func(ctx context.Context, _ interface{}) error {
			return h(ctx)
		}, nil
	case func() error:
		return func(context.Context, interface{}) error {
			return h()
		}, nil
	default:
		return nil, fmt.Errorf("unsupported hook handler shape %T", fn)
	}
}

// Scope is a reusable query-filtering preset applied to a select query.
type Scope func(*bun.SelectQuery) *bun.SelectQuery

// DefaultScopeName is the scope applied implicitly to reads.
const DefaultScopeName = "default"

// NormalizeScope coerces a declared scope into the canonical Scope shape.
// A scope may be declared directly or as a thunk; thunks are invoked lazily,
// on each application, so a default scope can capture late-bound state.
func NormalizeScope(v interface{}) (Scope, error) {
	switch s := v.(type) {
	case Scope:
		return s, nil
	case func(*bun.SelectQuery) *bun.SelectQuery:
		return s, nil
	case func() Scope:
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return s()(q)
		}, nil
	case func() func(*bun.SelectQuery) *bun.SelectQuery:
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return s()(q)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported scope shape %T", v)
	}
}
