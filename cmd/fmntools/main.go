/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/fmntools/cmd/fmntools/cmd"
)

func main() {
	cmd.Execute()
}
