// mdap drives a language model through the MDAP code-generation pipeline:
// expand requirements, decompose into functions, generate code, validate —
// every non-deterministic decision resolved by first-to-ahead-by-k voting.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
