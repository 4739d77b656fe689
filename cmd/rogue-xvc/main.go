// Command rogue-xvc serves the Xilinx Virtual Cable protocol over TCP,
// letting a JTAG tool such as Vivado's hardware manager drive a chain
// through Rogue, grounded on original_source's XvcSrv.cpp CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/xvc"
)

func main() {
	var (
		port     = flag.Uint("p", 2542, "TCP port to bind")
		target   = flag.String("t", "", "target to contact (unused: this build only wires the loopback driver)")
		verbose  = flag.Bool("v", false, "verbose output")
		testMode = flag.Uint("T", 0, "test mode flags passed through to the driver")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	log := logging.New(logConfig)

	if *target != "" {
		log.Warnf("-t %s ignored: this build only wires xvc.LoopbackDriver", *target)
	}
	if *testMode != 0 {
		log.Debugf("test mode flags 0x%x requested (loopback driver ignores them)", *testMode)
	}

	drv := xvc.NewLoopbackDriver()

	addr := fmt.Sprintf(":%d", *port)
	srv, err := xvc.Listen(addr, drv, 0, log)
	if err != nil {
		log.Errorf("failed to bind %s: %v", addr, err)
		os.Exit(1)
	}
	log.Infof("xvc server listening on %s", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("received shutdown signal")
		_ = srv.Close()
		os.Exit(0)
	}()

	if err := srv.Serve(); err != nil {
		log.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}
