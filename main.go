package main

import "github.com/sandbotdev/sandbot/cmd"

func main() {
	cmd.Execute()
}
