package cmd

import (
	"fmt"
	"runtime"
)

// Version is injected at build time via ldflags.
var Version = "development"

// runVersion prints version information.
func runVersion() {
	fmt.Printf("taskmind %s (%s, %s/%s)\n",
		Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
