package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/flagx"
)

var knownFlags = []string{
	"-l", "-r", "-d", "-b", "-g", "-e", "-s", "-t", "-i", "-w", "-q",
	"-gate", "-log", "-logfile",
}

// parseFlags populates Config fields from command-line flags. args are
// filtered with flagx.FilterArgs first so flags owned by other parsers
// (like -c) do not fail the parse. Invalid values panic.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.LocalDBPath, "l", cfg.LocalDBPath, "local database path")
	fs.StringVar(&cfg.RemoteBackend, "r", cfg.RemoteBackend, "remote backend (postgres, s3, none)")
	fs.StringVar(&cfg.PostgresDSN, "d", cfg.PostgresDSN, "postgres DSN")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "s3 bucket")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "s3 region")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "s3 endpoint")
	fs.StringVar(&cfg.SessionSecret, "s", cfg.SessionSecret, "session token secret")
	remoteTimeout := fs.Int("t", int(cfg.RemoteTimeout.Seconds()), "remote write timeout (in seconds)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.IntVar(&cfg.DispatchWorkers, "w", cfg.DispatchWorkers, "remote write workers")
	fs.IntVar(&cfg.DispatchQueue, "q", cfg.DispatchQueue, "remote write queue size")
	fs.StringVar(&cfg.HydrationGate, "gate", cfg.HydrationGate, "hydration gate (empty, once)")
	fs.StringVar(&cfg.LogBackend, "log", cfg.LogBackend, "log backend (slog, zap)")
	fs.StringVar(&cfg.LogFile, "logfile", cfg.LogFile, "log file path")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// second-granular flags only override the file when given
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			cfg.RemoteTimeout = time.Duration(*remoteTimeout) * time.Second
		case "i":
			cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
		}
	})
}
