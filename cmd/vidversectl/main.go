package main

import "github.com/vidverse/vidverse-go/internal/cli"

func main() {
	cli.Execute()
}
