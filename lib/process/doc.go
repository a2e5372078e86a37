// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds binary entrypoint helpers: reporting the
// error returned from run() before the structured logger exists, and
// mapping it to an exit status.
package process
