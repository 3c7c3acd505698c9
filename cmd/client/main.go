package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/gophnotes/internal/client/cli"
	"github.com/dmitrijs2005/gophnotes/internal/client/config"
)

func main() {

	cfg := config.LoadConfig()

	ctx, stop := cli.WithSignals(context.Background())
	defer stop()

	app, cleanup, err := cli.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
