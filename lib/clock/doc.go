// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject a Fake with deterministic time control
// so inode timestamps are exact values rather than "roughly now"
// assertions.
package clock
