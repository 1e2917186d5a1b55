package commands

import (
	"clocksync/config"
	"context"
	"errors"
	"io/fs"
	"os"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a config file with default settings. An existing file is
// only replaced when force is set.
func RunInit(ctx context.Context, cfg *config.Config, force bool) {
	_, err := os.Stat(cfg.File())
	switch {
	case err == nil && !force:
		log.Fatalf("Config file %s already exists, use --force to overwrite", cfg.File())
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		log.Fatalf("Cannot access %s: %v", cfg.File(), err)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
}
