// Command toykernel boots the toy kernel's two subsystems -- the region
// allocator and the cooperative scheduler -- runs a short demo workload,
// and exits. It takes the place of the reference project's bootloader
// entry point, which this module has no bootable target for.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vnatarajan/toykern/internal/debugsrv"
	"github.com/vnatarajan/toykern/internal/runtime/kernel"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON kernel config; defaults built in if empty")
	debugAddr := flag.String("debug-addr", "", "if set, serve kernel status over QUIC on this address")
	flag.Parse()

	config := kernel.DefaultKernelConfig()
	if *configPath != "" {
		loaded, err := kernel.LoadKernelConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "toykernel: %v\n", err)
			os.Exit(1)
		}
		config = loaded

		watcher, err := kernel.WatchKernelConfig(*configPath, func(cfg *kernel.KernelConfig) {
			fmt.Printf("toykernel: reloaded config (debug_enabled=%v)\n", cfg.DebugEnabled)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "toykernel: config watch disabled: %v\n", err)
		} else {
			defer watcher.Close()
		}
	}

	fmt.Println("========================================")
	fmt.Println("         Toy Kernel v1.0.0 - LIVE!      ")
	fmt.Println("========================================")

	if err := kernel.CreateMinimalOS(config); err != nil {
		fmt.Fprintf(os.Stderr, "toykernel: demo failed: %v\n", err)
		os.Exit(1)
	}

	if *debugAddr != "" {
		srv, err := debugsrv.Listen(*debugAddr, kernel.GetKernelStatus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "toykernel: debug server disabled: %v\n", err)
		} else {
			defer srv.Close()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go srv.Serve(ctx)
			fmt.Printf("Debug status server listening on %s\n", srv.Addr())

			// Keep the debug server reachable briefly so an external
			// inspector has a chance to connect before the process exits.
			time.Sleep(2 * time.Second)
		}
	}

	fmt.Println("\nToy kernel shutting down.")
}
