package main

import "github.com/pfrederiksen/city-events/internal/cli"

func main() {
	cli.Execute()
}
