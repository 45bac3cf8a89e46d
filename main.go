package main

import (
	"github.com/weave-hq/weave/internal/build"
	"github.com/weave-hq/weave/internal/cmd"
)

var version = "dev"

func init() {
	build.Version = version
}

func main() {
	cmd.Execute()
}
