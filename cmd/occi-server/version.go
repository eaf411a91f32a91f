package main

import "fmt"

// runVersion prints the build's version, commit and date, the same fields
// the teacher's cmd/cie/main.go reports for --version.
func runVersion() int {
	fmt.Printf("occi-server version %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
	return 0
}
