package main

import "github.com/shabbark/pocketpaw/cmd"

func main() {
	cmd.Execute()
}
