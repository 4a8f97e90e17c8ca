package main

import "trackcast/cmd"

func main() {
	cmd.Execute()
}
