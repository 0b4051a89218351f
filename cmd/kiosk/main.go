package main

import "github.com/oshokin/exhibit-kiosk/cmd/kiosk/cmd"

func main() {
	cmd.Execute()
}
