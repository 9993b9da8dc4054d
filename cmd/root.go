package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"teraresolve/internal"
	"teraresolve/resolver"
	"teraresolve/utils"
)

var (
	outputPath  string
	cookiesPath string
	configPath  string
	proxyURL    string
	jsonOutput  bool
	quiet       bool
	timeout     int
	retries     int
	workers     int
	debug       bool
	logLevel    string
	logFile     string
	config      *internal.Config
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	nameColor  = color.New(color.Bold)
	sizeColor  = color.New(color.FgYellow)
	linkColor  = color.New(color.FgGreen)
	mutedColor = color.New(color.FgHiBlack)
)

var rootCmd = &cobra.Command{
	Use:     "teraresolve [OPTIONS] <URL>",
	Short:   "Resolve TeraBox share links into direct download URLs",
	Version: "v1.0.0",
	Long: `TeraResolve lists the files behind a TeraBox share link and resolves each
file's redirecting download link into its final, direct URL.

Examples:
  teraresolve https://terabox.com/s/1AbC123
  teraresolve --json -o files.json https://terabox.com/s/1AbC123
  teraresolve -c cookies.txt --proxy socks5://127.0.0.1:1080 https://terabox.com/s/1AbC123
  teraresolve serve --port 3000

Environment Variables:
  TERARESOLVE_TIMEOUT     Per-attempt HTTP timeout in seconds
  TERARESOLVE_MAX_RETRIES Attempts per upstream request
  TERARESOLVE_WORKERS     Direct-link workers (1-32)
  TERARESOLVE_COOKIES     Path to cookie file
  TERARESOLVE_CONFIG      Path to YAML file with headers and cookies
  TERARESOLVE_PROXY       Default proxy URL`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(cmd); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}

		internal.LogDebug("Configuration loaded: timeout=%s, retries=%d, workers=%d, depth=%d, endpoint=%s",
			config.Timeout, config.MaxRetries, config.Workers, config.RedirectDepth, config.ListingEndpoint)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeResolveWorkflow(cmd.OutOrStdout(), args[0])
	},
}

// loadConfiguration builds the configuration from defaults, .env, the
// environment and the YAML file, then applies explicitly set flags.
func loadConfiguration(cmd *cobra.Command) error {
	flags := cmd.Flags()

	loaded, err := internal.Load()
	if err != nil {
		return err
	}
	config = loaded

	if flags.Changed("config") {
		config.ConfigFile = configPath
		if err := config.LoadFile(configPath); err != nil {
			return err
		}
	}

	if flags.Changed("cookies") {
		config.CookieFile = cookiesPath
	}
	if flags.Changed("proxy") {
		config.ProxyURL = proxyURL
	}
	if flags.Changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("retries") {
		config.MaxRetries = retries
	}
	if flags.Changed("workers") {
		config.Workers = workers
	}
	if flags.Changed("port") {
		config.Port = port
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}

	return config.ValidateConfig()
}

// progressObserver drives a progress bar from resolver notifications
type progressObserver struct {
	quiet   bool
	tracker *utils.ProgressTracker
}

func (p *progressObserver) LinksListed(total int) {
	p.tracker = utils.NewProgressTracker(total, p.quiet)
}

func (p *progressObserver) LinkResolved(result resolver.DirectResult) {
	if p.tracker != nil {
		p.tracker.Increment(result.Fallback)
	}
}

func (p *progressObserver) finish() {
	if p.tracker != nil {
		p.tracker.Finish()
	}
}

// resultDocument is the JSON written by --json and --output
type resultDocument struct {
	Status         string                  `json:"status"`
	URL            string                  `json:"url"`
	ShareID        string                  `json:"share_id"`
	Files          []internal.ResolvedFile `json:"files"`
	ProcessingTime string                  `json:"processing_time"`
	FileCount      int                     `json:"file_count"`
}

func newResultDocument(result *internal.ResolutionResult) resultDocument {
	return resultDocument{
		Status:         "success",
		URL:            result.URL,
		ShareID:        result.ShareID,
		Files:          result.Files,
		ProcessingTime: result.ProcessingTime(),
		FileCount:      len(result.Files),
	}
}

// executeResolveWorkflow resolves one share and prints or saves the result
func executeResolveWorkflow(out io.Writer, shareURL string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := resolver.NewTeraboxResolver(config)
	if err != nil {
		internal.LogResolutionError(err)
		return err
	}

	if err := r.Validator().ValidateURL(shareURL); err != nil {
		internal.LogResolutionError(err)
		return fmt.Errorf("invalid URL: %v\n\nSupported URL formats:\n  - https://terabox.com/s/[share_id]\n  - https://www.terabox.com/sharing/link?surl=[share_id]", err)
	}

	observer := &progressObserver{quiet: config.QuietMode || jsonOutput}
	result, err := r.ResolveWithObserver(ctx, internal.ResolutionRequest{URL: shareURL}, observer)
	observer.finish()
	if err != nil {
		internal.LogResolutionError(err)
		return fmt.Errorf("failed to resolve share: %w", err)
	}

	if result.Empty() {
		return fmt.Errorf("no files found or link is empty")
	}

	doc := newResultDocument(result)
	if outputPath != "" {
		if err := writeResultFile(outputPath, doc); err != nil {
			return err
		}
		internal.LogInfo("Result written to %s", outputPath)
	}

	if jsonOutput {
		payload, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(out, string(payload))
		return nil
	}

	renderSummary(out, result)
	return nil
}

// writeResultFile saves doc as indented JSON, replacing path atomically
func writeResultFile(path string, doc resultDocument) error {
	payload, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	fs := utils.NewFileOperations()
	if fs.FileExists(path) {
		internal.LogWarn("Overwriting existing file %s", path)
	}
	if err := fs.WriteFileAtomic(path, payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// renderSummary prints a human-readable listing of the resolved files
func renderSummary(out io.Writer, result *internal.ResolutionResult) {
	titleColor.Fprintf(out, "Share %s", result.ShareID)
	mutedColor.Fprintf(out, " (%s)\n", utils.CanonicalShareURL(result.ShareID))
	fmt.Fprintf(out, "%d files resolved in %s\n\n", len(result.Files), result.ProcessingTime())

	for i, file := range result.Files {
		nameColor.Fprintf(out, "%d. %s", i+1, file.FileName)
		sizeColor.Fprintf(out, "  %s\n", file.Size)
		fmt.Fprint(out, "   Direct:   ")
		linkColor.Fprintln(out, file.DirectDownloadURL)
		if file.DirectDownloadURL != file.DownloadURL {
			fmt.Fprint(out, "   Original: ")
			mutedColor.Fprintln(out, file.DownloadURL)
		}

		variants := make([]string, 0, len(file.Thumbnails))
		for variant := range file.Thumbnails {
			variants = append(variants, variant)
		}
		sort.Strings(variants)
		for _, variant := range variants {
			thumb := file.Thumbnails[variant]
			mutedColor.Fprintf(out, "   Thumbnail %s (%s): %s\n", variant, resolver.ThumbnailDimensions(thumb), thumb)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := internal.DefaultConfig()

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the JSON result to this file")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	rootCmd.PersistentFlags().StringVarP(&cookiesPath, "cookies", "c", "", "Path to Netscape-format cookie file (env: TERARESOLVE_COOKIES)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML file with headers and cookies (env: TERARESOLVE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL (env: TERARESOLVE_PROXY)")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", int(defaults.Timeout/time.Second), "Per-attempt HTTP timeout in seconds (env: TERARESOLVE_TIMEOUT)")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", defaults.MaxRetries, "Attempts per upstream request (env: TERARESOLVE_MAX_RETRIES)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", defaults.Workers, "Concurrent direct-link resolutions (1-32) (env: TERARESOLVE_WORKERS)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bar and informational logs")

	// Logging flags
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: TERARESOLVE_DEBUG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: TERARESOLVE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: TERARESOLVE_LOG_FILE)")
}

func Execute() error {
	return rootCmd.Execute()
}
