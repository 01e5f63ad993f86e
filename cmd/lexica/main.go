// Package main is the entry point for the Lexica RAG service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/lexica/cmd/lexica/app"
)

func main() {
	app.NewApp().Run()
}
