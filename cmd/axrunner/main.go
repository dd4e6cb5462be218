package main

import "github.com/devicelab-dev/axrunner/pkg/cli"

func main() {
	cli.Execute()
}
