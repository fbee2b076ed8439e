package main

import "github.com/OpenTraceLab/gowinprog/cmd/gowinprog/cmd"

func main() {
	cmd.Execute()
}
