package main

import "github.com/infraguys/genesis-devtools/internal/cli"

func main() {
	cli.Execute()
}
