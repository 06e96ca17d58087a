package main

import "github.com/skycoin/meshrouter/cmd/meshnode/commands"

func main() {
	commands.Execute()
}
