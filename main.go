package main

import "github.com/schemaplan/schemaplan/cmd"

func main() {
	cmd.Execute()
}
