// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/cumulus/internal/client"
	"github.com/sapcc/cumulus/internal/core"
	"github.com/sapcc/cumulus/internal/storage"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("CUMULUS_DEBUG")

	// first two arguments must be task name and configuration file
	if len(os.Args) < 3 {
		printUsageAndExit()
	}
	taskName, configPath := os.Args[1], os.Args[2]

	cfg := must.Return(core.NewConfiguration(configPath))
	store := must.Return(storage.NewStore(&cfg, client.KeystoneConnector{Config: &cfg}))

	var task func(context.Context, core.Configuration, *storage.Store, *client.Connection, []string) error
	switch taskName {
	case "sync":
		task = taskSync
	case "list":
		task = taskList
	case "delete":
		task = taskDelete
	case "url":
		task = taskURL
	default:
		printUsageAndExit()
	}

	ctx := context.Background()
	conn := must.Return(store.Connect(ctx))
	err := task(ctx, cfg, store, conn, os.Args[3:])
	if err != nil {
		logg.Fatal(err.Error())
	}
}

var usageMessage = strings.TrimSpace(`
Usage:
	cumulus sync   <config-file> <directory>
	cumulus list   <config-file> [<path>]
	cumulus delete <config-file> <object-name>
	cumulus url    <config-file> <object-name>
`) + "\n"

func printUsageAndExit() {
	fmt.Fprint(os.Stderr, usageMessage)
	os.Exit(1)
}

// taskSync uploads a local directory tree into the static-assets container,
// applying the configured header rules to every uploaded object.
func taskSync(ctx context.Context, cfg core.Configuration, store *storage.Store, conn *client.Connection, args []string) error {
	if len(args) != 1 {
		printUsageAndExit()
	}
	sourceDir := args[0]

	if cfg.StaticContainerName == "" {
		return fmt.Errorf("cannot sync %s: no static_container configured", sourceDir)
	}
	err := conn.SetContainer(ctx, cfg.StaticContainerName, false)
	if err != nil {
		return err
	}

	return filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		name, err := store.Save(ctx, conn, filepath.ToSlash(relPath), storage.Content{Reader: file})
		if err != nil {
			return err
		}
		err = store.SyncHeaders(ctx, conn, name, nil)
		if err != nil {
			return err
		}
		logg.Info("synced %s to %s", path, store.URL(conn, name))
		return nil
	})
}

func taskList(ctx context.Context, cfg core.Configuration, store *storage.Store, conn *client.Connection, args []string) error {
	dirPath := ""
	if len(args) > 0 {
		dirPath = args[0]
	}

	dirNames, fileNames, err := store.FullListdir(ctx, conn, dirPath)
	if err != nil {
		return err
	}
	for _, dirName := range dirNames {
		fmt.Println(dirName)
	}
	for _, fileName := range fileNames {
		fmt.Println(fileName)
	}
	return nil
}

func taskDelete(ctx context.Context, cfg core.Configuration, store *storage.Store, conn *client.Connection, args []string) error {
	if len(args) != 1 {
		printUsageAndExit()
	}
	return store.Delete(ctx, conn, args[0])
}

func taskURL(ctx context.Context, cfg core.Configuration, store *storage.Store, conn *client.Connection, args []string) error {
	if len(args) != 1 {
		printUsageAndExit()
	}
	fmt.Println(store.URL(conn, args[0]))
	return nil
}
