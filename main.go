package main

import "github.com/LegacyCodeHQ/mpptrack/cmd"

func main() {
	cmd.Execute()
}
