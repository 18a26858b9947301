// Command galmirror-server runs the gallery index mirror: three periodic
// tasks keeping a Postgres store of galleryinfo records and a Redis store of
// derived info records converged with the remote index, plus a small HTTP
// status surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	sglog "github.com/sourcegraph/log"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/sunpetal/galmirror"
	"github.com/sunpetal/galmirror/debugserver"
	"github.com/sunpetal/galmirror/mirror"
	"github.com/sunpetal/galmirror/pgstore"
	"github.com/sunpetal/galmirror/redisstore"
	"github.com/sunpetal/galmirror/upstream"
)

func getEnvWithDefaultString(k string, defaultVal string) string {
	v := os.Getenv(k)
	if v == "" {
		return defaultVal
	}
	return v
}

func getEnvWithDefaultInt(k string, defaultVal int) int {
	v := os.Getenv(k)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("error parsing ENV %s to int: %s", k, err)
	}
	return i
}

func getEnvWithDefaultBool(k string, defaultVal bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("error parsing ENV %s to bool: %s", k, err)
	}
	return b
}

// getEnvWithDefaultSeconds reads k as a number of seconds.
func getEnvWithDefaultSeconds(k string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("error parsing ENV %s to seconds: %s", k, err)
	}
	return time.Duration(secs * float64(time.Second))
}

func getEnvWithDefaultStrings(k string, defaultVal ...string) []string {
	v := os.Getenv(k)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type rootConfig struct {
	listen      string
	upstreamURL string
	indexFiles  []string

	galleryinfoDBURL string
	infoDBURL        string

	mirroringDelay    time.Duration
	partialCheckDelay time.Duration
	fullCheckDelay    time.Duration

	remoteConcurrency int
	localConcurrency  int
	partialCheckRange int

	runAsOnce bool

	disableMirroring    bool
	disableIntegrity    bool
	disablePartialCheck bool
	disableFullCheck    bool

	enablePprof bool
}

func (rc *rootConfig) registerRootFlags(fs *flag.FlagSet) {
	fs.StringVar(&rc.listen, "listen", getEnvWithDefaultString("LISTEN", ":8000"), "listen on this address.")
	fs.StringVar(&rc.upstreamURL, "upstream_url", getEnvWithDefaultString("UPSTREAM_URL", upstream.DefaultRoot), "base URL of the remote gallery index.")
	fs.StringVar(&rc.galleryinfoDBURL, "galleryinfo_db_url", os.Getenv("GALLERYINFO_DB_URL"), "Postgres DSN for the galleryinfo store.")
	fs.StringVar(&rc.infoDBURL, "info_db_url", os.Getenv("INFO_DB_URL"), "Redis URL for the info store.")
	fs.DurationVar(&rc.mirroringDelay, "mirroring_delay", getEnvWithDefaultSeconds("MIRRORING_DELAY", time.Hour), "sleep between mirror iterations. The ENV value is in seconds.")
	fs.DurationVar(&rc.partialCheckDelay, "partial_check_delay", getEnvWithDefaultSeconds("INTEGRITY_PARTIAL_CHECK_DELAY", 6*time.Hour), "sleep between partial integrity checks. The ENV value is in seconds.")
	fs.DurationVar(&rc.fullCheckDelay, "full_check_delay", getEnvWithDefaultSeconds("INTEGRITY_FULL_CHECK_DELAY", 120*time.Hour), "sleep between full integrity checks. The ENV value is in seconds.")
	fs.IntVar(&rc.remoteConcurrency, "remote_concurrent_size", getEnvWithDefaultInt("MIRRORING_REMOTE_CONCURRENT_SIZE", mirror.DefaultRemoteConcurrency), "batch size and max batches in flight for upstream fetches.")
	fs.IntVar(&rc.localConcurrency, "local_concurrent_size", getEnvWithDefaultInt("MIRRORING_LOCAL_CONCURRENT_SIZE", mirror.DefaultLocalConcurrency), "batch size and max batches in flight for local pipelines.")
	fs.IntVar(&rc.partialCheckRange, "partial_check_range_size", getEnvWithDefaultInt("INTEGRITY_PARTIAL_CHECK_RANGE_SIZE", mirror.DefaultPartialCheckRange), "reserved bound on partial check scope.")
	fs.BoolVar(&rc.runAsOnce, "run_as_once", getEnvWithDefaultBool("RUN_AS_ONCE", false), "run each task once and exit instead of looping.")
	fs.BoolVar(&rc.disableMirroring, "disable_mirroring", getEnvWithDefaultBool("DISABLE_MIRRORING", false), "do not run the mirror task.")
	fs.BoolVar(&rc.disableIntegrity, "disable_integrity_check", getEnvWithDefaultBool("DISABLE_INTEGRITY_CHECK", false), "do not run any integrity check task.")
	fs.BoolVar(&rc.disablePartialCheck, "disable_integrity_partial_check", getEnvWithDefaultBool("DISABLE_INTEGRITY_PARTIAL_CHECK", false), "do not run the partial integrity check task.")
	fs.BoolVar(&rc.disableFullCheck, "disable_integrity_full_check", getEnvWithDefaultBool("DISABLE_INTEGRITY_FULL_CHECK", false), "do not run the full integrity check task.")
	fs.BoolVar(&rc.enablePprof, "pprof", getEnvWithDefaultBool("ENABLE_PPROF", false), "set to enable remote profiling.")

	fs.Var(stringsFlag{&rc.indexFiles}, "index_files", "comma-separated index files to mirror.")
	rc.indexFiles = getEnvWithDefaultStrings("INDEX_FILES", "index-english.nozomi")
}

// stringsFlag adapts a []string field to the flag package.
type stringsFlag struct{ dst *[]string }

func (f stringsFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return strings.Join(*f.dst, ",")
}

func (f stringsFlag) Set(v string) error {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fmt.Errorf("no index files in %q", v)
	}
	*f.dst = out
	return nil
}

func rootCmd() *ffcli.Command {
	rootFs := flag.NewFlagSet("rootFs", flag.ExitOnError)
	var conf rootConfig
	conf.registerRootFlags(rootFs)

	return &ffcli.Command{
		FlagSet:    rootFs,
		ShortUsage: "galmirror-server [flags]",
		Exec: func(ctx context.Context, args []string) error {
			return startServer(ctx, conf)
		},
	}
}

func startServer(ctx context.Context, conf rootConfig) error {
	liblog := sglog.Init(sglog.Resource{
		Name:       "galmirror-server",
		Version:    galmirror.Version,
		InstanceID: os.Getenv("HOSTNAME"),
	})
	defer liblog.Sync()
	logger := sglog.Scoped("server", "gallery index mirror")

	// Tune GOMAXPROCS to match Linux container CPU quota.
	_, _ = maxprocs.Set()

	if conf.galleryinfoDBURL == "" {
		return fmt.Errorf("must set -galleryinfo_db_url")
	}
	if conf.infoDBURL == "" {
		return fmt.Errorf("must set -info_db_url")
	}
	rootURL, err := url.Parse(conf.upstreamURL)
	if err != nil {
		return fmt.Errorf("url.Parse(%v): %w", conf.upstreamURL, err)
	}

	gallery, err := pgstore.Open(ctx, conf.galleryinfoDBURL)
	if err != nil {
		return err
	}
	defer gallery.Close()

	infos, err := redisstore.Open(ctx, conf.infoDBURL)
	if err != nil {
		return err
	}
	defer infos.Close()

	source := upstream.NewClient(rootURL, conf.indexFiles)

	task := mirror.NewTask(sglog.Scoped("mirror", "mirroring engine"), source, gallery, infos, conf.runAsOnce)
	task.RemoteConcurrency = conf.remoteConcurrency
	task.LocalConcurrency = conf.localConcurrency
	task.PartialCheckRange = conf.partialCheckRange

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	manager := mirror.NewManager(sglog.Scoped("taskmanager", "periodic task manager"))
	if !conf.disableMirroring {
		manager.Register(ctx, "MirroringTask", conf.mirroringDelay, task.StartMirroring)
	}
	if !conf.disableIntegrity {
		if !conf.disablePartialCheck {
			manager.Register(ctx, "MirroringTask_PartialIntegrityCheck", conf.partialCheckDelay, task.StartPartialIntegrityCheck)
		}
		if !conf.disableFullCheck {
			manager.Register(ctx, "MirroringTask_FullIntegrityCheck", conf.fullCheckDelay, task.StartFullIntegrityCheck)
		}
	}

	server := &apiServer{
		logger:  logger,
		task:    task,
		gallery: gallery,
	}
	mux := http.NewServeMux()
	server.addHandlers(mux)
	debugserver.AddHandlers(mux, conf.enablePprof)

	httpServer := &http.Server{Addr: conf.listen, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		logger.Info("serving HTTP", sglog.String("listen", conf.listen))
		errc <- httpServer.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		logger.Info("shutting down", sglog.String("signal", sig.String()))
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", sglog.Error(err))
		}
	}

	cancel()
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd().ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
