//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "kmsinfo: KMS is only available on linux")
	os.Exit(1)
}
