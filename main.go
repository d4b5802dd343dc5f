package main

import "voteagent/internal/app"

func main() {
	app.Main()
}
