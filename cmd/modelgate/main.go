package main

import "github.com/modelgate/modelgate/internal/cli"

func main() {
	cli.Execute()
}
