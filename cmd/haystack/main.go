// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/fpath"
	"storj.io/common/memory"
	"storj.io/haystack/binstore"
	"storj.io/haystack/node"
	"storj.io/haystack/reclaim"
	"storj.io/private/cfgstruct"
	"storj.io/private/process"
)

var (
	rootCmd = &cobra.Command{
		Use:   "haystack",
		Short: "Haystack object storage node",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the haystack node",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	reportCmd = &cobra.Command{
		Use:         "reclaim-report",
		Short:       "Print the space held by unreferenced chunks (the node must be stopped)",
		RunE:        cmdReport,
		Annotations: map[string]string{"type": "helper"},
	}

	runCfg    node.Config
	setupCfg  node.Config
	reportCfg node.Config
	confDir   string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "haystack")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for haystack configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(reportCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
	process.Bind(reportCmd, &reportCfg, defaults, cfgstruct.ConfDir(confDir))
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if err := runCfg.Verify(); err != nil {
		log.Error("Invalid configuration.", zap.Error(err))
		return err
	}

	peer, err := node.New(ctx, log, runCfg)
	if err != nil {
		return err
	}

	log.Info("Haystack node started.",
		zap.String("metadata", runCfg.Metadata.Backend),
		zap.String("binary", runCfg.Binary.Backend))

	runError := peer.Run(ctx)
	closeError := peer.Close()

	return errs.Combine(runError, closeError)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("haystack configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	overrides := map[string]interface{}{
		"log.level": "info",
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"), process.SaveConfigWithOverrides(overrides))
}

func cmdReport(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	if err := reportCfg.Verify(); err != nil {
		return err
	}

	store, err := node.OpenBinary(log.Named("binary"), reportCfg.Binary)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, store.Close()) }()

	deletions, ok := store.(binstore.DeletionLog)
	if !ok {
		return errs.New("binary backend %q has no readable deletion log", reportCfg.Binary.Backend)
	}

	report, err := reclaim.NewChore(log.Named("reclaim"), deletions, reportCfg.Reclaim).Scan(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	defer func() { err = errs.Combine(err, w.Flush()) }()

	fmt.Fprint(w, "User\tEntries\tProcessed\tTotal\tDeleted\tUpdated\tAbandoned\tEligible\n")
	for _, user := range report.Users {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			user.User,
			user.Entries,
			user.Processed,
			user.Bytes,
			user.ByReason[binstore.ReasonDelete],
			user.ByReason[binstore.ReasonUpdate],
			user.ByReason[binstore.ReasonAbandoned],
			user.Eligible,
		)
	}
	fmt.Fprintf(w, "%v\t%v\t\t%v\t\t\t\t%v\n", "total", report.Entries, report.Bytes, report.Eligible)
	if report.Disk != nil {
		fmt.Fprintf(w, "\nDisk: %v total, %v free\n", memory.Size(report.Disk.Total), memory.Size(report.Disk.Free))
	}

	return nil
}

func main() {
	process.Exec(rootCmd)
}
