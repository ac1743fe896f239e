package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/devgate/cmd/devsim/app"
)

func main() {
	app.NewApp().Run()
}
