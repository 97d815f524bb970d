package main

import "github.com/clubside/regbot/cmd"

func main() {
	cmd.Execute()
}
