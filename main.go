package main

import "github.com/projectx/agentx/cmd"

func main() {
	cmd.Execute()
}
