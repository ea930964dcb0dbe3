// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs runs assistant generations in the background so they
// outlive the request that started them.
//
// Every job numbers its chunks from 1. A client that drops its connection
// reconnects with the last number it saw; Subscribe hands back the text so
// far together with a channel of later chunks, taken atomically.
//
// # Key Types
//
//   - Registry: Starts, finds, cancels and prunes jobs
//   - Job: One generation with its accumulated text
//   - Subscription: Snapshot plus live chunk channel
//
// # Usage
//
//	reg := jobs.NewRegistry(10*time.Minute, persist, logger)
//	_ = reg.StartPruner(time.Minute)
//	defer reg.Close()
//
//	job, err := reg.Start(serverCtx, sessionID, messageID, generator.Run)
//	sub := job.Subscribe()
//	defer sub.Close()
//	for c := range sub.C {
//	    ...
//	}
package jobs
