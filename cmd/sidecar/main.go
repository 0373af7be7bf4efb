// FlowLite sidecar for ComfyUI.
//
// Exposes three lightweight endpoints next to a ComfyUI host:
// - /flowlite/catalog  slim model/lora/vae/sampler lists (instead of the heavy /object_info)
// - /flowlite/image    image download with optional PNG→JPEG compression
// - /flowlite/health   liveness check
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
