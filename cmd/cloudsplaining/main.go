package main

import "github.com/McLaouth/cloudsplaining/cmd/cloudsplaining/commands"

func main() {
	commands.Execute()
}
