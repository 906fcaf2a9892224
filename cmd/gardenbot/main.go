// gardenbot drives garden rounds in a game window from scanned selection text.
package main

import "github.com/GriffinCanCode/gardenbot/internal/cli"

func main() {
	cli.Execute()
}
