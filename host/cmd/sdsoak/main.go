// sdsoak drives the soak test firmware on an attached target board. It
// starts the test, streams the target's progress and verification report to
// stdout, and on Ctrl-C tells the target to stop so the final counter dump
// can be captured before exiting.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/adamgreen/SDCard/host/serial"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud   = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
)

func main() {
	flag.Parse()

	fmt.Println("SDCard Soak Test Monitor")
	fmt.Println("========================")

	console, err := serial.Open(*device, *baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer console.Close()

	// Any byte starts a stopped soak loop on the target.
	if err := console.SendControl('g'); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to start test: %v\n", err)
		os.Exit(1)
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	stopping := false
	var stopDeadline time.Time
	buffer := make([]byte, 4096)
	for {
		select {
		case <-interrupts:
			// Ask the target to finish the current pass and report.
			fmt.Println("\nStopping test on target...")
			console.SendControl('s')
			stopping = true
			stopDeadline = time.Now().Add(5 * time.Second)
		default:
		}

		n, err := console.Read(buffer)
		if n > 0 {
			os.Stdout.Write(buffer[:n])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			break
		}
		if stopping && (n == 0 || time.Now().After(stopDeadline)) {
			// The target has gone quiet after the stop request; the final
			// report has been captured.
			break
		}
	}
}
