package main

import "github.com/deploymenttheory/go-dynpart/cmd"

func main() {
	cmd.Execute()
}
