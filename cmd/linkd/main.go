package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/linkd/internal"
	"github.com/dgellow/linkd/internal/config"
	"github.com/dgellow/linkd/internal/log"
)

var BuildVersion = "dev"

func main() {
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting linkd", map[string]any{
		"version": BuildVersion,
	})

	ctx := context.Background()
	linkd, err := internal.NewLinkd(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	if err := linkd.Run(); err != nil {
		log.LogError("Server exited with error: %v", err)
		os.Exit(1)
	}
}
