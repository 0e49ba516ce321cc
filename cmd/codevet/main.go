package main

import "github.com/animus-coder/codevet/internal/cli"

func main() {
	cli.Execute()
}
