// Package main: точка входа signaling-server (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/alexsmy/bot-29-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
