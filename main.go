package main

import "github.com/achievetrack/apiserver/cmd"

func main() {
	cmd.Execute()
}
