/*
Package fastserver is a small static-content HTTP/1.x server.

Each connection carries exactly one request. The accept loop hands
connections to a fixed pool of worker goroutines; a worker parses the
request into a per-connection arena, resolves the target below the document
root and answers from a cache of read-only memory mappings. A mapping is
reused for as long as the file's modification time and size stay the same
and is replaced on the first request after either changes.

# Quick Start

Serve the current directory on port 8080:

	httpd 8080 .

Or embed the engine:

	package main

	import (
	    "context"

	    "github.com/searchktools/fast-server/config"
	    "github.com/searchktools/fast-server/core"
	)

	func main() {
	    cfg := config.Default()
	    cfg.Root = "./public"

	    engine, err := core.NewEngine(cfg)
	    if err != nil {
	        panic(err)
	    }
	    defer engine.Shutdown(context.Background())

	    engine.Serve(context.Background())
	}

# Modules

  - app: logger construction and the signal-driven run loop
  - cmd/httpd: command line entry point
  - config: configuration bundle, flags, environment and config files
  - core: engine, listening socket and statistics
  - core/arena: bump allocator for per-connection scratch memory
  - core/index: ordered set used by the cache and by request headers
  - core/cache: memory-mapped resource cache with refcounted views
  - core/http: request parsing, path resolution and response headers
  - core/pools: worker pool and arena pool
  - core/sendfile: zero-copy body transfer

# Responses

Only 200 and 404 are ever written. Malformed requests, unsupported versions
and internal failures close the connection without a response.
*/
package fastserver
