package main

import "github.com/cadforge/cadopt/cmd"

func main() {
	cmd.Execute()
}
