package main

import "github.com/tanq16/ranger/cmd"

func main() {
	cmd.Execute()
}
