package main

import "github.com/aslmdev/Crevion-Helper-Bot/cmd"

func main() {
	cmd.Execute()
}
