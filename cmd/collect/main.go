// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command collect extracts the source a function depends on.
//
// Starting from one function, collect follows its calls through the
// project (Python, TypeScript and JavaScript) and prints every function
// and class they reach as fenced blocks, followed by an index of the
// imports that crossed file boundaries.
//
// Usage:
//
//	collect -f app/service.py -F Service.run
//	collect trace ./myproject -f src/index.ts -F main --max-depth 3 -o context.md
//	collect trace -i                       # pick the start function interactively
//	collect trace -f a.py -F main --watch  # re-collect on every change
//	collect list ./myproject --filter user
//	collect callers ./myproject save
//	collect analyze app/service.py
//
// Settings are read from collector.config.yaml and .env in the project
// root and from COLLECTOR_* environment variables; flags override both.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
