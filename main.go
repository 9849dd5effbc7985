package main

import "github.com/harvest-downloader/harvest/cmd"

func main() {
	cmd.Execute()
}
