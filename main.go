package main

import "github.com/dhcgn/mbox-finetune/cmd"

func main() {
	cmd.Execute()
}
