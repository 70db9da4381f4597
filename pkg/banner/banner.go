package banner

import "fmt"

// Print writes the worker's startup banner to stdout.
func Print() {
	fmt.Println("chromeworker - browser-session worker")
}
