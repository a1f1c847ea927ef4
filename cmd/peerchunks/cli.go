package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/peerchunks/peerchunks/core/config"
	"github.com/peerchunks/peerchunks/core/node"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the peer node and an interactive command loop",
	Action: func(ctx *cli.Context) error {
		cfg, err := config.GetConfig()
		if err != nil {
			return err
		}

		n, err := node.New(cfg)
		if err != nil {
			return err
		}
		defer n.Close()

		runCtx, cancel := context.WithCancel(ctx.Context)
		defer cancel()

		if err := n.Start(runCtx); err != nil {
			return err
		}

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		fmt.Println("Enter command (upload/download/search/list/exit):")
		for {
			select {
			case <-shutdown:
				log.Infow("shutdown", "status", "signal received")
				return nil
			case line, open := <-lines:
				if !open {
					return nil
				}
				if done := runCommand(runCtx, n, line); done {
					return nil
				}
			}
		}
	},
}

func runCommand(ctx context.Context, n *node.Node, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	switch strings.ToLower(args[0]) {
	case "upload":
		if len(args) < 2 {
			fmt.Println("Usage: upload <file_path>")
			return false
		}
		fileID, err := n.Upload(ctx, args[1])
		if err != nil && fileID == uuid.Nil {
			log.Errorw("upload", "error", err)
			return false
		}
		if err != nil {
			log.Errorw("upload", "warning", "stored locally, replication failed", "cause", err)
		}
		fmt.Printf("Uploaded %s with file ID %s\n", args[1], fileID)

	case "download":
		if len(args) < 3 {
			fmt.Println("Usage: download <file_id> <destination>")
			return false
		}
		fileID, err := uuid.Parse(args[1])
		if err != nil {
			log.Errorw("download", "error", "invalid file ID", "query", args[1])
			return false
		}
		if err := n.Download(ctx, fileID, args[2]); err != nil {
			log.Errorw("download", "error", err)
			return false
		}
		fmt.Printf("Downloaded %s to %s\n", fileID, args[2])

	case "search":
		if len(args) < 2 {
			fmt.Println("Usage: search <file_id_or_name>")
			return false
		}
		printAddresses(args[1], n.Search(ctx, args[1]))

	case "list":
		printCatalog(ctx, n)

	case "exit":
		fmt.Println("Exiting PeerChunks CLI.")
		return true

	default:
		fmt.Println("Unknown command. Available commands: upload, download, search, list, exit")
	}

	return false
}

var uploadCmd = &cli.Command{
	Name:  "upload",
	Usage: "Split a file into chunks, store and replicate it",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-path",
			Required: true,
			Usage:    "Path to the file to ingest",
		},
	},
	Action: func(ctx *cli.Context) error {
		n, err := offlineNode()
		if err != nil {
			return err
		}
		defer n.Close()

		fileID, err := n.Upload(ctx.Context, ctx.String("file-path"))
		if err != nil && fileID == uuid.Nil {
			return err
		}
		if err != nil {
			log.Errorw("upload", "warning", "stored locally, replication failed", "cause", err)
		}

		fmt.Println(fileID)
		return nil
	},
}

var downloadCmd = &cli.Command{
	Name:  "download",
	Usage: "Reassemble a file from stored chunks",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-id",
			Required: true,
			Usage:    "Identifier returned by upload",
		},
		&cli.StringFlag{
			Name:     "destination",
			Required: true,
			Usage:    "Path to write the reassembled file to",
		},
	},
	Action: func(ctx *cli.Context) error {
		fileID, err := uuid.Parse(ctx.String("file-id"))
		if err != nil {
			return fmt.Errorf("invalid file ID: %w", err)
		}

		n, err := offlineNode()
		if err != nil {
			return err
		}
		defer n.Close()

		return n.Download(ctx.Context, fileID, ctx.String("destination"))
	},
}

var searchCmd = &cli.Command{
	Name:  "search",
	Usage: "Find peers holding a file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "query",
			Required: true,
			Usage:    "File ID or file name fragment",
		},
	},
	Action: func(ctx *cli.Context) error {
		n, err := offlineNode()
		if err != nil {
			return err
		}
		defer n.Close()

		printAddresses(ctx.String("query"), n.Search(ctx.Context, ctx.String("query")))
		return nil
	},
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "List files uploaded through this node",
	Action: func(ctx *cli.Context) error {
		n, err := offlineNode()
		if err != nil {
			return err
		}
		defer n.Close()

		printCatalog(ctx.Context, n)
		return nil
	},
}

// offlineNode builds a node from the environment without starting the
// listener, for one-shot commands against the local store.
func offlineNode() (*node.Node, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	return node.New(cfg)
}

func printAddresses(query string, addresses []string) {
	if len(addresses) == 0 {
		fmt.Printf("No peers found for %s\n", query)
		return
	}

	fmt.Printf("Peers storing %s:\n", query)
	for _, address := range addresses {
		fmt.Printf("- %s\n", address)
	}
}

func printCatalog(ctx context.Context, n *node.Node) {
	records, err := n.List(ctx)
	if err != nil {
		log.Errorw("list", "error", err)
		return
	}

	for _, record := range records {
		fmt.Printf("%s  %s  %d bytes  %d chunks  %s\n",
			record.ID, record.Name, record.Size, record.Chunks, record.UploadedAt.Format("2006-01-02 15:04:05"))
	}
}
