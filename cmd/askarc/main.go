package main

import "askarc/internal/cli"

func main() {
	cli.Execute()
}
