package main

import "github.com/openjustice/entitygraph/cmd"

func main() {
	cmd.Execute()
}
