// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration shared by the hub (server
// section) and by producers and the transport (client section).
//
// Configuration comes from one file, named either by the
// BROWSERPIPE_CONFIG environment variable ([Load]) or explicitly
// ([LoadFile]). YAML files are read with gopkg.in/yaml.v3; files ending
// in .json or .jsonc are read as JSON with comments and trailing commas
// (tidwall/jsonc). Values missing from the file keep their [Default].
//
// ${VAR} and ${VAR:-default} are expanded in string fields after
// loading. Launcher flags override the loaded values; nothing else
// does.
//
// This package depends on no other browserpipe packages.
package config
