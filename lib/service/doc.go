// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP listener lifecycle for the hub:
// bind the first free address of an ordered list, signal readiness,
// serve, and drain on context cancellation.
package service
