// Command cefr serves and runs the CEFR text-level ensemble classifier.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
