package main

import "grimm.is/vpnadmin/cmd"

func main() {
	cmd.Execute()
}
