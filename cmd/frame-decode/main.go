package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

// frame-decode reads hex-encoded notification payloads, one per line, and
// prints the decoded telemetry as JSON. Useful for inspecting captured
// traffic without a live device.
func main() {
	var pretty bool
	flag.BoolVar(&pretty, "pretty", false, "Indent JSON output")
	flag.Parse()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}

	exitCode := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.ReplaceAll(line, " ", "")
		line = strings.ReplaceAll(line, ":", "")
		if line == "" {
			continue
		}

		data, err := hex.DecodeString(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid hex input: %v\n", err)
			exitCode = 1
			continue
		}

		snap, err := solix.DecodeFrame(data, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode failed: %v\n", err)
			exitCode = 1
			continue
		}

		if err := enc.Encode(snap); err != nil {
			fmt.Fprintf(os.Stderr, "encode failed: %v\n", err)
			exitCode = 1
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}
