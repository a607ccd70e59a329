package main

import "github.com/bryanchriswhite/envbridge/cmd/envbridge/commands"

func main() {
	commands.Execute()
}
