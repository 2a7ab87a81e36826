package main

import "github.com/combigrid/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
