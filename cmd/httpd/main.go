// Command httpd serves a directory of static files over HTTP/1.x.
//
// Usage:
//
//	httpd [port] [root] [flags]
//
// Settings come from, in increasing precedence: built-in defaults, a config
// file given by --config, HTTPD_* environment variables, flags and the
// positional arguments.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
