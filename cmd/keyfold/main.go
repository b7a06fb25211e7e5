package main

import "github.com/keyfold/keyfold-go/internal/cli"

func main() {
	cli.Execute()
}
