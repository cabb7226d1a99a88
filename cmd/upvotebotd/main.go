package main

import (
	"log"

	"upvotebot/bot"
)

func main() {
	if err := bot.Main(); err != nil {
		log.Fatalf("upvotebotd: %v", err)
	}
}
