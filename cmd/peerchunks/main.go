package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/peerchunks/peerchunks/lib/logger"
)

var log, _ = logger.New("peerchunks")

func main() {
	app := &cli.App{
		Name:  "peerchunks",
		Usage: "peer-to-peer chunked file distribution node",
		Commands: []*cli.Command{
			runCmd,
			uploadCmd,
			downloadCmd,
			searchCmd,
			listCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}
