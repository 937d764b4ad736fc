package main

import "github.com/ppiankov/segvguard/internal/cli"

func main() {
	cli.Execute()
}
