package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"fcopy/pkg/client"
	"fcopy/pkg/config"
	"fcopy/pkg/logging"
	"fcopy/pkg/topology"
	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code alongside its message, per §6.2:
// 0 on success, 1 on usage/validation failure, the upstream errno on
// transfer failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func usageErr(format string, args ...interface{}) *exitError {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

func main() {
	var (
		targets    []string
		targetList string
		parallel   int
		sendMethod string
		speedLimit int64
		waitClose  bool
		directIO   bool
		checkSelf  bool
		dryRun     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "fcopy-cli [OPTIONS] FILE...",
		Short: "Replicate files to a set of fcopy nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(verbose)
			defer logger.Sync()

			allTargets, err := resolveTargets(targets, targetList)
			if err != nil {
				return usageErr("%w", err)
			}
			if len(allTargets) == 0 {
				return usageErr("no targets specified (use -t or --target-list)")
			}

			if checkSelf {
				if err := checkTargets(allTargets); err != nil {
					return usageErr("%w", err)
				}
			}

			method, err := topology.ParseMethod(sendMethod)
			if err != nil {
				return usageErr("%w", err)
			}

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "dry run: would send %d file(s) to %d target(s) via %s\n",
					len(args), len(allTargets), method)
				for _, f := range args {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
				}
				return nil
			}

			pool := client.NewPool(logger, uint32(wire.DefaultSizeLimit),
				5*time.Second, 30*time.Second, 30*time.Second)
			defer pool.CloseAll()
			sender := client.NewSender(pool, logger)

			params := client.SendParams{
				Targets:    allTargets,
				Parallel:   parallel,
				ChunkSize:  65536,
				SpeedLimit: speedLimit * 1024 * 1024,
				WaitClose:  waitClose,
				DirectIO:   directIO,
				SendMethod: method,
			}

			ctx := context.Background()
			for _, path := range args {
				result, err := sender.SendFile(ctx, path, params)
				if err != nil {
					return &exitError{code: transferExitCode(err), err: fmt.Errorf("%s: %w", path, err)}
				}
				if verbose {
					printSummary(cmd, path, result)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "add a target host:port (repeatable)")
	cmd.Flags().StringVar(&targetList, "target-list", "", "read host:port lines from FILE")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "parallel worker count, clamped to [1, 900]")
	cmd.Flags().StringVar(&sendMethod, "send-method", "chain", "chain or tree")
	cmd.Flags().Int64Var(&speedLimit, "speed-limit", 0, "rate limit in MB/s, 0 disables")
	cmd.Flags().BoolVar(&waitClose, "wait-close", true, "wait for the destination close to complete")
	cmd.Flags().BoolVar(&directIO, "direct-io", true, "use O_DIRECT for local reads (not sent to the targets)")
	cmd.Flags().BoolVar(&checkSelf, "check-self", false, "reject targets matching local addresses or duplicates")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be sent without connecting")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging and a transfer summary")

	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if e, ok := err.(*exitError); ok {
			ee = e
		} else {
			ee = &exitError{code: 1, err: err}
		}
		fmt.Fprintf(os.Stderr, "fcopy-cli: %v\n", ee.err)
		os.Exit(ee.code)
	}
}

func resolveTargets(flagTargets []string, listFile string) ([]client.Target, error) {
	var out []client.Target
	for _, s := range flagTargets {
		t, err := config.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if listFile != "" {
		fromFile, err := config.LoadTargetList(listFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	return out, nil
}

// checkTargets rejects duplicate targets and targets that resolve to a
// local address, per --check-self.
func checkTargets(targets []client.Target) error {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		addr := t.Addr()
		if seen[addr] {
			return fmt.Errorf("duplicate target %s", addr)
		}
		seen[addr] = true
	}

	localAddrs, err := localAddrSet()
	if err != nil {
		return fmt.Errorf("enumerate local addresses: %w", err)
	}
	for _, t := range targets {
		if localAddrs[t.Host] {
			return fmt.Errorf("target %s resolves to a local address", t.Addr())
		}
	}
	return nil
}

func localAddrSet() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(addrs)+1)
	set["localhost"] = true
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		set[ipnet.IP.String()] = true
	}
	return set, nil
}

// transferExitCode maps a send failure onto a process exit code: the
// errno code wireerr.CodeOf finds in err, reported as its positive
// magnitude. CodeOf reports errors that carry no errno as EIO, so the
// fallback of 1 is reached only for a nil err.
func transferExitCode(err error) int {
	if code := wireerr.CodeOf(err); code != 0 {
		if code < 0 {
			return int(-code)
		}
		return int(code)
	}
	return 1
}

func printSummary(cmd *cobra.Command, path string, result client.Result) {
	style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	bps := client.FormatBPS(result.BytesSent, result.Elapsed)
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d bytes in %s (%s)\n",
		style.Render("OK"), path, result.BytesSent, result.Elapsed.Round(time.Millisecond), bps)
}
