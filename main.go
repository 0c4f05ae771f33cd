package main

import "github.com/inovacc/deploywatch/cmd"

func main() {
	cmd.Execute()
}
