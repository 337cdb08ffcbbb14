package main

import (
	"log"

	"coldvault/cmd/cv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
