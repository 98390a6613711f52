package main

import "github.com/rabdya767/Stock-ATH-Alert/internal/cli"

func main() {
	cli.Execute()
}
