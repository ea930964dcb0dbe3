// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse frames chat stream bodies into events and back.
//
// The client side is Reader, which turns a chunked body into a finite
// sequence of Event values without interpreting them. The server side is
// Writer, which emits one "data: <json>" frame per event and flushes.
//
// # Wire Format
//
//	data: {"message_id":42}
//	data: {"seq":1,"chunk":"Hel"}
//	data: {"initial":true,"initial_chunk":"Hello","last_seq":2}
//	data: {"error":"model unavailable"}
//	data: {"done":true}
//
// A frame without a data line is a bare content delta.
//
// # Usage
//
//	rd := sse.NewReader(resp.Body, sse.WithLogger(logger))
//	for ev, err := range rd.All() {
//	    if err != nil {
//	        return err
//	    }
//	    apply(ev)
//	}
package sse
