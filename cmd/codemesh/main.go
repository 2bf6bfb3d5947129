package main

import "github.com/draagon/codemesh/internal/cli"

func main() {
	cli.Execute()
}
