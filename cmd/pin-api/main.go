package main

import (
	"context"

	"github.com/BearBump/PinBox/config"
	"github.com/pkg/errors"
)

func main() {
	config.LoadDotEnv()

	app := mustBootstrapPinAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
