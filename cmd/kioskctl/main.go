package main

import "github.com/oshokin/exhibit-kiosk/cmd/kioskctl/cmd"

func main() {
	cmd.Execute()
}
