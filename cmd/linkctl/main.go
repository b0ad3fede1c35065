package main

import "github.com/sandboxhq/devicelink/cmd/linkctl/cmd"

func main() {
	cmd.Execute()
}
