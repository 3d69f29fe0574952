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
	"database/sql"
	"errors"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

// ErrorSubscriber receives every query execution failure, after it has been
// logged and before the original error is returned to the caller.
type ErrorSubscriber func(error)

// queryErrorHook wraps query execution: successes pass through untouched,
// failures are logged with the offending SQL and re-emitted to subscribers.
// The caller's error is never swallowed; Bun still returns it unchanged.
type queryErrorHook struct {
	logger Logger
	notify func(error)
}

var _ bun.QueryHook = (*queryErrorHook)(nil)

func (h *queryErrorHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryErrorHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	switch {
	case event.Err == nil,
		errors.Is(event.Err, sql.ErrNoRows),
		errors.Is(event.Err, sql.ErrTxDone):
		return
	}

	if h.logger != nil {
		h.logger.Error("Query execution failed",
			"error", event.Err.Error(),
			"query", formatQuery(event),
		)
	}
	if h.notify != nil {
		h.notify(event.Err)
	}
}

func formatQuery(event *bun.QueryEvent) string {
	switch event.Operation() {
	case "SELECT":
		return color.GreenString(event.Query)
	case "INSERT":
		return color.BlueString(event.Query)
	case "UPDATE":
		return color.YellowString(event.Query)
	case "DELETE":
		return color.MagentaString(event.Query)
	default:
		return color.RedString(event.Query)
	}
}

// slowQueryHook warns about successful queries slower than the threshold.
type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*slowQueryHook)(nil)

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.slowTime && h.logger != nil {
		h.logger.Warn("Slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", formatQuery(event),
		)
	}
}
