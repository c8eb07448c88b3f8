package main

import "github.com/aweris/graft/cmd/graft/cmd"

func main() {
	cmd.Execute()
}
