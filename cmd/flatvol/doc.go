// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Flatvol manages single-file flat-namespace volumes. It creates
// volumes, stores and retrieves files inside them, and inspects
// volume state. File data is read from stdin or a file and written
// to stdout or a file. Subcommands: init, create, write, read, rm,
// ls, info, version.
package main
