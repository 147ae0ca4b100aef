package main

import "graceq/cmd"

func main() {
	cmd.Run()
}
