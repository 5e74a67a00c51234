package main

import "runwarden/cmd/cli"

func main() {
	cli.Execute()
}
