package main

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags
var Version = "v0.1.0"

// PrintVersion prints the current version
func PrintVersion() {
	fmt.Printf("searchx %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
