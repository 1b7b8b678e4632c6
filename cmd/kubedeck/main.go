package main

import (
	"context"

	"github.com/kubedeck/kubedeck/deckcli"
)

func main() {
	deckcli.New().Run(context.Background())
}
