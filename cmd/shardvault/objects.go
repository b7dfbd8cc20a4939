package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"shardvault/internal/digest"
	"shardvault/internal/ledger"

	"github.com/spf13/cobra"
)

var (
	outputFile string
	listLimit  int

	putCmd = &cobra.Command{
		Use:   "put <lane> <file>",
		Short: "store a file under a lane and print its receipt",
		Long:  "Store a file under a lane. A file name of - reads the payload from stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			return withApp(cmd, func(a *app) error {
				receipt, err := a.pipe.Put(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), receipt)
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <hash>",
		Short: "reconstruct an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid object hash: %w", err)
			}

			return withApp(cmd, func(a *app) error {
				payload, err := a.pipe.Get(cmd.Context(), hash)
				if err != nil {
					return err
				}
				if outputFile != "" {
					return os.WriteFile(outputFile, payload, 0o644)
				}
				_, err = cmd.OutOrStdout().Write(payload)
				return err
			})
		},
	}

	statCmd = &cobra.Command{
		Use:   "stat <hash>",
		Short: "print an object's manifest and receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid object hash: %w", err)
			}

			return withApp(cmd, func(a *app) error {
				m, err := a.pipe.Manifest(hash)
				if err != nil {
					return err
				}
				receipt, err := a.pipe.Receipt(hash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"manifest": m,
					"receipt":  receipt,
				})
			})
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <hash>",
		Short: "delete an object's manifest and receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid object hash: %w", err)
			}

			return withApp(cmd, func(a *app) error {
				return a.pipe.Delete(hash)
			})
		},
	}

	manifestsCmd = &cobra.Command{
		Use:   "manifests",
		Short: "list stored manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				summaries, err := a.pipe.Manifests(listLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summaries)
			})
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "delete chunks no manifest references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				report, err := a.pipe.Sweep()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	repairCmd = &cobra.Command{
		Use:   "repair <hash>",
		Short: "rebuild an object's missing or damaged shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := digest.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid object hash: %w", err)
			}

			return withApp(cmd, func(a *app) error {
				report, err := a.pipe.Repair(cmd.Context(), hash)
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}

	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "print every provider profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				snapshots, err := a.pipe.Profiles()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snapshots)
			})
		},
	}

	fundCmd = &cobra.Command{
		Use:   "fund <lane> <kib>",
		Short: "deposit write credit, in KiB, into a lane",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			return withApp(cmd, func(a *app) error {
				d, ok := a.credits.(depositor)
				if !ok {
					return fmt.Errorf("the %s ledger cannot be funded", a.cfg.Ledger)
				}
				if err := d.Deposit(args[0], ledger.ResourceWriteKB, amount); err != nil {
					return err
				}
				return printBalances(cmd, d)
			})
		},
	}

	balancesCmd = &cobra.Command{
		Use:   "balances",
		Short: "print every lane balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				d, ok := a.credits.(depositor)
				if !ok {
					return fmt.Errorf("the %s ledger keeps no balances", a.cfg.Ledger)
				}
				return printBalances(cmd, d)
			})
		},
	}
)

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func printBalances(cmd *cobra.Command, d depositor) error {
	balances, err := d.Balances()
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), balances)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
