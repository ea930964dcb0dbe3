// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate produces assistant replies for the server's jobs.
//
// A Generator streams text through an emit callback; Bind adapts one call
// into a jobs.RunFunc. Two backends exist: Echo, which repeats the prompt
// and needs nothing, and Ollama, which streams from a local model with the
// last ten history messages as context.
package generate
