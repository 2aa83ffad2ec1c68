// File: main.go
package main

import "github.com/stitchqa/stitch/cmd"

func main() {
	cmd.Execute()
}
