package main

import "github.com/JonMunkholm/canview/internal/cli"

func main() {
	cli.Execute()
}
