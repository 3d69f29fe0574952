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

// Package database is a conventions layer over the Bun ORM: default
// timestamp/soft-delete fields, model registration with hooks and scopes,
// startup migrations, per-model version bookkeeping, and query-error
// reporting. Query execution, SQL generation, pooling, and transactions
// are Bun's job, not this package's.
package database
