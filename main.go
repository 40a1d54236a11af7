package main

import "github.com/wolfitem/rust-daily/cmd"

func main() {
	cmd.Execute()
}
