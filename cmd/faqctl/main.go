package main

import (
	"fmt"
	"os"

	"github.com/faqbot/console/internal/cli"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/pkg/config"
	"github.com/faqbot/console/pkg/logger"
)

func main() {
	open := func() (*console.Console, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		// Logs go to stderr only when asked for; command output owns stdout.
		level := os.Getenv("FAQCTL_LOG")
		if level != "" {
			if err := logger.Init(level, "console", "stderr"); err != nil {
				return nil, fmt.Errorf("logger: %w", err)
			}
		}
		return console.Build(cfg)
	}

	if err := cli.Execute(open); err != nil {
		os.Exit(1)
	}
	logger.Sync()
}
