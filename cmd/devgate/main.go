package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/devgate/cmd/devgate/app"
)

func main() {
	app.NewApp().Run()
}
