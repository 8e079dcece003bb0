package main

import "github.com/lynassistant/lyn/cmd"

func main() {
	cmd.Execute()
}
