package main

import "github.com/lunabadge/luna/cmd/luna/commands"

func main() {
	commands.Execute()
}
