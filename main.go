package main

import "guest-gallery-backend/cmd"

func main() {
	cmd.Run()
}
