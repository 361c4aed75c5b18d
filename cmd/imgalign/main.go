// Command imgalign registers an image onto a reference image by feature
// matching and writes the warped result.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
