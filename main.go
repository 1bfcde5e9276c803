package main

import "github.com/tanmay-xvx/meshbus/internals/commands"

func main() {
	commands.Execute()
}
