// Command netguardctl is the administrative client for netguardd.
package main

import (
	"fmt"
	"os"

	"netguardd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netguardctl: %v\n", err)
		os.Exit(1)
	}
}
