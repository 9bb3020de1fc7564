package main

import "github.com/samsaffron/nvim-llm/cmd"

func main() {
	cmd.Execute()
}
