package main

import "dsbench/cmd"

func main() {
	cmd.Execute()
}
