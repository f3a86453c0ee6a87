package main

import (
	"curator/cmd/handlers"
)

func main() {
	handlers.Execute()
}
