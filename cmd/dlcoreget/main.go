// Command dlcoreget is a thin CLI over the dlcore engine: add one or more
// URLs, print throttled progress, and exit nonzero if any task ends in
// Error or Cancelled.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	dlconfig "github.com/surge-downloader/dlcore/internal/config"
	"github.com/surge-downloader/dlcore/internal/dlcore/callbacks"
	"github.com/surge-downloader/dlcore/internal/dlcore/scheduler"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// Version is dlcore's package version, restored from the original engine's
// GetVersion() (dropped by the distilled spec but not excluded by any
// Non-goal).
const Version = "1.1.0"

var (
	flagThreads    int
	flagSavePath   string
	flagSpeedLimit int
	flagMd5        string
	flagProxy      string
	flagLock       bool
)

var statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
var errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
var doneStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))

var rootCmd = &cobra.Command{
	Use:     "dlcoreget [urls...]",
	Short:   "Download one or more files with dlcore",
	Version: Version,
	Args:    cobra.MinimumNArgs(1),
	RunE:    run,
}

func init() {
	rootCmd.Flags().IntVarP(&flagThreads, "threads", "t", 0, "segment count, clamped 1-16 (0 = engine default)")
	rootCmd.Flags().StringVarP(&flagSavePath, "output", "o", "", "destination directory (default: config default)")
	rootCmd.Flags().IntVar(&flagSpeedLimit, "limit", 0, "speed limit in KB/s (0 = configured limit, unlimited by default)")
	rootCmd.Flags().StringVar(&flagMd5, "md5", "", "expected MD5 digest to verify against (single-URL runs only)")
	rootCmd.Flags().StringVar(&flagProxy, "proxy", "", "proxy URL, e.g. socks5://host:port or http://host:port")
	rootCmd.Flags().BoolVar(&flagLock, "lock", false, "refuse to run if another dlcoreget instance holds the lock")
	rootCmd.SetVersionTemplate("dlcoreget version {{.Version}}\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagLock {
		lockPath := filepath.Join(dlconfig.GetConfigDir(), "dlcoreget.lock")
		os.MkdirAll(filepath.Dir(lockPath), 0755)
		fl := flock.New(lockPath)
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another dlcoreget instance is already running")
		}
		defer fl.Unlock()
	}

	cfg, err := dlconfig.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagSavePath != "" {
		cfg.DefaultSavePath = flagSavePath
	}
	if flagSpeedLimit > 0 {
		cfg.SpeedLimitKB = flagSpeedLimit
	}
	if flagProxy != "" {
		proxyCfg, perr := parseProxyFlag(flagProxy)
		if perr != nil {
			return perr
		}
		cfg.Proxy = proxyCfg
	}
	cfg.Logging.LogToConsole = false

	engine, err := scheduler.New(cfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	engine.SetProgressCallback(func(id string, percent int, downloaded, total, bps uint64) {
		fmt.Printf("\r%s %3d%%  %s / %s  %s/s   ",
			statusStyle.Render(shortID(id)), percent,
			humanize.Bytes(downloaded), humanize.Bytes(total), humanize.Bytes(bps))
	})
	engine.SetCompleteCallback(func(id string, finalPath string) {
		fmt.Printf("\n%s %s -> %s\n", doneStyle.Render("done"), shortID(id), finalPath)
	})
	engine.SetErrorCallback(func(id string, message string, willRetry bool) {
		if willRetry {
			fmt.Printf("\n%s %s: %s (retrying)\n", errorStyle.Render("warn"), shortID(id), message)
		} else {
			fmt.Printf("\n%s %s: %s\n", errorStyle.Render("error"), shortID(id), message)
		}
	})

	engine.Start()
	defer engine.Stop()

	threads := flagThreads
	if threads <= 0 {
		threads = cfg.DefaultThreadCount
	}

	ids := make([]string, 0, len(args))
	for _, url := range args {
		md5 := ""
		if len(args) == 1 {
			md5 = flagMd5
		}
		id, err := engine.AddTaskWithMd5(url, cfg.DefaultSavePath, threads, md5)
		if err != nil {
			return fmt.Errorf("adding %s: %w", url, err)
		}
		ids = append(ids, id)
	}

	failed := false
	for _, id := range ids {
		status, err := engine.WaitForTask(id, 0)
		if err != nil {
			failed = true
			continue
		}
		if status == types.StatusError || status == types.StatusCancelled {
			failed = true
		}
	}

	if failed {
		return fmt.Errorf("one or more downloads did not complete successfully")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseProxyFlag(raw string) (types.ProxyConfig, error) {
	// minimal scheme://host:port parsing; credentials are not accepted on
	// the command line.
	scheme := ""
	rest := raw
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == ':' && raw[i+1] == '/' && raw[i+2] == '/' {
			scheme = raw[:i]
			rest = raw[i+3:]
			break
		}
	}
	host := rest
	port := 0
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			host = rest[:i]
			fmt.Sscanf(rest[i+1:], "%d", &port)
			break
		}
	}
	return types.ProxyConfig{
		Type: types.ParseProxyType(scheme),
		Host: host,
		Port: port,
	}, nil
}
