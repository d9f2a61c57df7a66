package main

import "github.com/felixgeelhaar/sentimemory/cmd/sentimemory/cli"

func main() {
	cli.Execute()
}
