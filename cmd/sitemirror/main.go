package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"sitemirror/pkg/config"
	"sitemirror/pkg/engine"
	"sitemirror/pkg/models"
)

// Overridden at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile string
	flagCfg config.Config

	resourceCSS       bool
	resourceJS        bool
	resourceImages    bool
	resourceFonts     bool
	resourceVideos    bool
	resourceSVG       bool
	resourceDocuments bool
	noRobots          bool
	flatten           bool
	quiet             bool
)

var rootCmd = &cobra.Command{
	Use:   "sitemirror",
	Short: "Mirror a website for offline browsing.",
	Long: `sitemirror crawls a website starting from one or more base URLs,
downloads pages and their embedded resources (stylesheets, scripts, images,
fonts), and rewrites links so the saved copy is browsable offline.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a mirror run",
	RunE:  runMirror,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sitemirror version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sitemirror %s\n", version)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "path to YAML config file")
	f.StringArrayVar(&flagCfg.BaseURLs, "url", nil, "base URL to mirror (repeatable)")
	f.StringVarP(&flagCfg.OutputDir, "output", "o", "mirror_output", "output directory for the mirrored site")
	f.StringVar(&flagCfg.CacheDir, "cache-dir", "mirror_cache", "directory for the download cache")
	f.StringVar(&flagCfg.UserAgent, "user-agent", "", "User-Agent header for requests")
	f.IntVarP(&flagCfg.Concurrency, "concurrency", "c", 8, "number of concurrent workers")
	f.DurationVar(&flagCfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	f.IntVar(&flagCfg.Retries, "retries", 3, "retry attempts for transient failures")
	f.IntVarP(&flagCfg.MaxDepth, "depth", "d", 3, "maximum link depth from the base URLs")
	f.DurationVar(&flagCfg.RateLimit, "rate-limit", 0, "minimum delay between requests to the same host")
	f.BoolVar(&resourceCSS, "css", true, "download stylesheets")
	f.BoolVar(&resourceJS, "js", true, "download scripts")
	f.BoolVar(&resourceImages, "images", true, "download images")
	f.BoolVar(&resourceFonts, "fonts", true, "download fonts")
	f.BoolVar(&resourceVideos, "videos", false, "download video and audio files")
	f.BoolVar(&resourceSVG, "svg", true, "download SVG images")
	f.BoolVar(&resourceDocuments, "documents", false, "download linked documents (pdf, docx, ...)")
	f.BoolVar(&flagCfg.IncludeSubdomains, "include-subdomains", false, "treat subdomains of the base hosts as in scope")
	f.BoolVar(&flagCfg.FollowExternalLinks, "follow-external", false, "follow page links to other hosts")
	f.BoolVar(&noRobots, "no-robots", false, "ignore robots.txt")
	f.Int64Var(&flagCfg.MaxFileSize, "max-file-size", 100*1024*1024, "maximum size per downloaded file in bytes")
	f.BoolVar(&flatten, "flatten", false, "flatten the output layout into host/<type>/ directories")
	f.BoolVar(&flagCfg.FlattenDedupe, "flatten-dedupe", false, "suffix colliding flattened filenames with a URL hash")
	f.StringArrayVar(&flagCfg.Exclusions, "exclude", nil, "skip URLs containing this substring (repeatable)")
	f.StringToStringVar(&flagCfg.Headers, "header", nil, "extra request header as key=value (repeatable)")
	f.StringVar(&flagCfg.BasicAuthUser, "auth-user", "", "username for HTTP basic auth")
	f.StringVar(&flagCfg.BasicAuthPass, "auth-pass", "", "password for HTTP basic auth")
	f.StringVar(&flagCfg.BearerToken, "bearer-token", "", "bearer token for the Authorization header")
	f.StringArrayVar(&flagCfg.IgnoreMIMETypes, "ignore-mime", nil, "skip responses with this MIME type (repeatable)")
	f.IntVar(&flagCfg.MaxPages, "max-pages", 0, "stop discovering pages after this many (0 for unlimited)")
	f.IntVar(&flagCfg.MaxResources, "max-resources", 0, "stop discovering resources after this many (0 for unlimited)")
	f.IntVar(&flagCfg.MaxImages, "max-images", 0, "stop downloading images after this many (0 for unlimited)")
	f.StringVar(&flagCfg.Proxy, "proxy", "", "proxy URL for all requests")
	f.BoolVar(&flagCfg.IgnoreHTTPSErrors, "insecure", false, "skip TLS certificate verification")
	f.BoolVar(&flagCfg.RemoveQueryStrings, "strip-query", false, "drop query strings when normalizing URLs")
	f.BoolVar(&flagCfg.Render.Enabled, "render", false, "render pages in a headless browser before saving")
	f.DurationVar(&flagCfg.Render.WaitAfterLoad, "render-wait", 2*time.Second, "extra wait after page load when rendering")
	f.IntVar(&flagCfg.Render.ScrollPasses, "render-scrolls", 3, "scroll-to-bottom passes when rendering")
	f.StringVar(&flagCfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	f.BoolVarP(&quiet, "quiet", "q", false, "suppress the progress bar")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildConfig overlays explicitly set flags on the defaults, or on the
// config file when --config was given.
func buildConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.LoadFile(cfgFile)
		if err != nil {
			return cfg, err
		}
	}

	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if set("url") {
		cfg.BaseURLs = flagCfg.BaseURLs
	}
	if set("output") {
		cfg.OutputDir = flagCfg.OutputDir
	}
	if set("cache-dir") {
		cfg.CacheDir = flagCfg.CacheDir
	}
	if set("user-agent") {
		cfg.UserAgent = flagCfg.UserAgent
	}
	if set("concurrency") {
		cfg.Concurrency = flagCfg.Concurrency
	}
	if set("timeout") {
		cfg.Timeout = flagCfg.Timeout
	}
	if set("retries") {
		cfg.Retries = flagCfg.Retries
	}
	if set("depth") {
		cfg.MaxDepth = flagCfg.MaxDepth
	}
	if set("rate-limit") {
		cfg.RateLimit = flagCfg.RateLimit
	}
	if set("css") {
		cfg.ResourceTypes.CSS = resourceCSS
	}
	if set("js") {
		cfg.ResourceTypes.JS = resourceJS
	}
	if set("images") {
		cfg.ResourceTypes.Images = resourceImages
	}
	if set("fonts") {
		cfg.ResourceTypes.Fonts = resourceFonts
	}
	if set("videos") {
		cfg.ResourceTypes.Videos = resourceVideos
	}
	if set("svg") {
		cfg.ResourceTypes.SVG = resourceSVG
	}
	if set("documents") {
		cfg.ResourceTypes.Documents = resourceDocuments
	}
	if set("include-subdomains") {
		cfg.IncludeSubdomains = flagCfg.IncludeSubdomains
	}
	if set("follow-external") {
		cfg.FollowExternalLinks = flagCfg.FollowExternalLinks
	}
	if set("no-robots") {
		cfg.RespectRobots = !noRobots
	}
	if set("max-file-size") {
		cfg.MaxFileSize = flagCfg.MaxFileSize
	}
	if set("flatten") {
		cfg.Layout = config.LayoutKeep
		if flatten {
			cfg.Layout = config.LayoutFlatten
		}
	}
	if set("flatten-dedupe") {
		cfg.FlattenDedupe = flagCfg.FlattenDedupe
	}
	if set("exclude") {
		cfg.Exclusions = flagCfg.Exclusions
	}
	if set("header") {
		cfg.Headers = flagCfg.Headers
	}
	if set("auth-user") {
		cfg.BasicAuthUser = flagCfg.BasicAuthUser
	}
	if set("auth-pass") {
		cfg.BasicAuthPass = flagCfg.BasicAuthPass
	}
	if set("bearer-token") {
		cfg.BearerToken = flagCfg.BearerToken
	}
	if set("ignore-mime") {
		cfg.IgnoreMIMETypes = flagCfg.IgnoreMIMETypes
	}
	if set("max-pages") {
		cfg.MaxPages = flagCfg.MaxPages
	}
	if set("max-resources") {
		cfg.MaxResources = flagCfg.MaxResources
	}
	if set("max-images") {
		cfg.MaxImages = flagCfg.MaxImages
	}
	if set("proxy") {
		cfg.Proxy = flagCfg.Proxy
	}
	if set("insecure") {
		cfg.IgnoreHTTPSErrors = flagCfg.IgnoreHTTPSErrors
	}
	if set("strip-query") {
		cfg.RemoveQueryStrings = flagCfg.RemoveQueryStrings
	}
	if set("render") {
		cfg.Render.Enabled = flagCfg.Render.Enabled
	}
	if set("render-wait") {
		cfg.Render.WaitAfterLoad = flagCfg.Render.WaitAfterLoad
	}
	if set("render-scrolls") {
		cfg.Render.ScrollPasses = flagCfg.Render.ScrollPasses
	}
	if set("loglevel") {
		cfg.LogLevel = flagCfg.LogLevel
	}
	return cfg, nil
}

// barObserver drives a terminal progress bar from engine events.
type barObserver struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	quiet bool
	fails int
}

func newBarObserver(quiet bool) *barObserver {
	o := &barObserver{quiet: quiet}
	if !quiet {
		o.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("mirroring"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	return o
}

func (o *barObserver) OnLog(string) {}

func (o *barObserver) OnStatus(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar != nil {
		o.bar.Describe(msg)
	}
}

func (o *barObserver) OnProgress(pct int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar != nil {
		o.bar.Set(pct)
	}
}

func (o *barObserver) OnPageResult(out models.DownloadOutcome) {
	o.record(out)
}

func (o *barObserver) OnResourceResult(out models.DownloadOutcome) {
	o.record(out)
}

func (o *barObserver) record(out models.DownloadOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if out.Status == models.StatusFailed {
		o.fails++
	}
}

func (o *barObserver) OnFinished(success bool, summary string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar != nil {
		o.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintln(os.Stderr, summary)
	if o.fails > 0 && o.quiet {
		fmt.Fprintf(os.Stderr, "%d downloads failed, see the log for details\n", o.fails)
	}
}

func runMirror(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.BaseURLs) == 0 {
		return fmt.Errorf("at least one base URL is required (--url or a config file)")
	}

	obs := newBarObserver(quiet)
	run, err := engine.Start(cfg, obs)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupt received, stopping (press again to force quit)")
		run.Stop()
		<-sigCh
		os.Exit(130)
	}()

	run.Wait()
	signal.Stop(sigCh)

	summary := run.Summary()
	if run.State() != engine.StateCompleted {
		return fmt.Errorf("mirror run did not complete (state=%s, %d failures)", run.State(), summary.Failures)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
