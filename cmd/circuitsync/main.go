package main

import "github.com/circuit-synth/circuitsync/cmd/circuitsync/cmd"

func main() {
	cmd.Execute()
}
