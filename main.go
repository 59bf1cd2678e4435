package main

import "songshare/cmd"

func main() {
	cmd.Execute()
}
