// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/zfs-progs-ng/lib/textui"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
	"git.lukeshu.com/zfs-progs-ng/lib/zfsinspect"
)

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	var driverFlag string
	var cacheFlag string
	var configFlag string
	var jsonFlag bool

	argparser := &cobra.Command{
		Use:   "zfs-locate [flags] POOL DATASET/PATH",
		Short: "Map a file to the byte ranges on its pool's backing devices",
		Long: "" +
			"zfs-locate walks the block-pointer tree of a file and prints, for\n" +
			"every data block, the device paths and byte ranges that hold it.\n" +
			"The second argument is split at its first slash into a dataset name\n" +
			"and an in-dataset file path (`home/docs/a.txt` names `docs/a.txt`\n" +
			"within the `home` dataset).  Nothing is modified.",

		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringVar(&driverFlag, "driver", "libzpool", "name of the registered pool-access `driver` to read with")
	argparser.PersistentFlags().StringVar(&cacheFlag, "cache", "/etc/zfs/zpool.cache", "read pool configuration from the pool-cache file `zpool.cache`")
	if err := argparser.MarkPersistentFlagFilename("cache"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().StringVar(&configFlag, "config", "", "read pool configuration from external JSON file `config.json` instead of the pool-cache file")
	if err := argparser.MarkPersistentFlagFilename("config", "json"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().BoolVar(&jsonFlag, "json", false, "emit the report as JSON rather than text")

	argparser.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
		ctx = dlog.WithLogger(ctx, logger)
		ctx = dlog.WithField(ctx, "mem", new(textui.LiveMemUse))
		dlog.SetFallbackLogger(logger.WithField("zfs-progs.THIS_IS_A_BUG", true))

		pool := args[0]
		dataset, filePath, ok := strings.Cut(args[1], "/")
		if !ok || dataset == "" || filePath == "" {
			return cliutil.FlagErrorFunc(cmd, fmt.Errorf("second argument must be DATASET/PATH, got %q", args[1]))
		}

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) (err error) {
			maybeSetErr := func(_err error) {
				if _err != nil && err == nil {
					err = _err
				}
			}

			drv, err := zfs.LookupDriver(driverFlag)
			if err != nil {
				return err
			}

			var poolCache zfs.PoolCache
			if configFlag != "" {
				poolCache, err = readJSONFile[zfs.PoolCache](ctx, configFlag)
			} else {
				poolCache, err = drv.ReadPoolCache(ctx, cacheFlag)
			}
			if err != nil {
				return err
			}
			dlog.Tracef(ctx, "pool cache: %s", spew.Sdump(poolCache))

			topo, err := zfsvol.LoadTopology(ctx, poolCache, pool)
			if err != nil {
				return err
			}

			objset, err := drv.OpenObjset(ctx, pool, dataset)
			if err != nil {
				return err
			}
			defer func() {
				maybeSetErr(objset.Close())
			}()
			objset = zfs.NewCachedObjset(objset)

			report, err := zfsinspect.LocateFile(ctx, objset, topo, dataset, filePath)
			if err != nil {
				return err
			}

			if jsonFlag {
				return writeJSONFile(os.Stdout, report, lowmemjson.ReEncoder{
					Indent:                "\t",
					ForceTrailingNewlines: true,
				})
			}
			return report.EmitText(os.Stdout)
		})
		return grp.Wait()
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
