// readerlet: turn a web article into a Kindle-ready EPUB.
//
//	readerlet [options] <URL>
//
// The article is extracted, optionally stripped of links or images, its
// images are downloaded and rewritten to local references, and the result
// is written as EPUB (default), HTML, Markdown or plain text. With -send
// the EPUB is mailed to a Kindle address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
)

var outputFormats = []string{"epub", "html", "md", "text"}

// cliConfig holds parsed command-line options.
type cliConfig struct {
	output        string
	format        string
	toStdout      bool
	noImages      bool
	noLinks       bool
	kindle        bool
	convert       convertOpts
	extractor     string
	titleOverride string
	timeout       time.Duration
	userAgent     string
	proxy         string
	send          bool
	delivery      *fileConfig
	args          []string
}

// applyDefaults fills options the user did not set on the command line
// from the config file. set holds the names of flags that were given.
func (c *cliConfig) applyDefaults(d defaultsConfig, set map[string]bool) {
	if !set["o"] && d.Output != "" {
		c.output = d.Output
	}
	if !set["format"] && d.Format != "" {
		c.format = d.Format
	}
	if !set["kindle"] && d.Kindle != nil {
		c.kindle = *d.Kindle
	}
	if !set["grayscale"] && d.Grayscale != nil {
		c.convert.grayscale = *d.Grayscale
	}
	if !set["max-width"] && d.MaxWidth != nil {
		c.convert.maxWidth = *d.MaxWidth
	}
	if !set["timeout"] && d.Timeout > 0 {
		c.timeout = d.Timeout
	}
	if !set["user-agent"] && d.UserAgent != "" {
		c.userAgent = d.UserAgent
	}
	if !set["proxy"] && d.Proxy != "" {
		c.proxy = d.Proxy
	}
	if !set["extractor"] && d.Extractor != "" {
		c.extractor = d.Extractor
	}
}

func (c *cliConfig) validate() error {
	if len(c.args) != 1 {
		return fmt.Errorf("exactly one URL argument is required")
	}
	valid := false
	for _, f := range outputFormats {
		valid = valid || c.format == f
	}
	if !valid {
		return fmt.Errorf("unknown format %q (want one of %s)", c.format, strings.Join(outputFormats, ", "))
	}
	if c.toStdout && c.format == "epub" {
		return fmt.Errorf("-stdout needs -format html, md or text")
	}
	if c.send {
		if c.format != "epub" || c.toStdout {
			return fmt.Errorf("-send only works with epub output")
		}
		if c.delivery == nil {
			return fmt.Errorf("-send requires email settings")
		}
		if err := c.delivery.Validate(); err != nil {
			return fmt.Errorf("-send: %w", err)
		}
	}
	if c.convert.maxWidth < 0 {
		return fmt.Errorf("-max-width must not be negative")
	}
	return nil
}

func (c *cliConfig) newExtractor() extractor {
	if c.extractor != "" {
		return commandExtractor{command: c.extractor}
	}
	return readabilityExtractor{timeout: c.timeout, userAgent: c.userAgent}
}

// run executes the main application logic, returning any error.
func run(ctx context.Context, cfg cliConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	fetchProxyURL = cfg.proxy
	imageUserAgent = cfg.userAgent

	rawURL := cfg.args[0]
	log.Infof("Extracting %s", shortURL(rawURL))
	a, err := cfg.newExtractor().Extract(ctx, rawURL)
	if err != nil {
		return err
	}
	if cfg.titleOverride != "" {
		a.Title = cfg.titleOverride
	}
	log.Infof("Title: %s", truncateDisplay(a.Title))

	if cfg.noLinks {
		if err := removeHyperlinks(a); err != nil {
			return err
		}
	}

	if cfg.format == "text" {
		return writeOutput(cfg, a, outputFileName(a.Title, ".txt"), a.TextContent)
	}

	// Stdout output has nowhere to put image files.
	if cfg.noImages || cfg.toStdout {
		if err := removeImages(a); err != nil {
			return err
		}
	}

	switch cfg.format {
	case "epub":
		return runEpub(ctx, cfg, a)
	case "html":
		if err := localizeInto(ctx, cfg, a, filepath.Join(cfg.output, "images")); err != nil {
			return err
		}
		doc, err := renderFullHTML(a)
		if err != nil {
			return err
		}
		return writeOutput(cfg, a, outputFileName(a.Title, ".html"), doc)
	default:
		if err := localizeInto(ctx, cfg, a, filepath.Join(cfg.output, "images")); err != nil {
			return err
		}
		md, err := articleToMarkdown(a)
		if err != nil {
			return err
		}
		return writeOutput(cfg, a, outputFileName(a.Title, ".md"), md)
	}
}

// localizeInto runs the image pipeline into dir unless images were
// stripped.
func localizeInto(ctx context.Context, cfg cliConfig, a *Article, dir string) error {
	if cfg.noImages || cfg.toStdout {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating image directory: %w", err)
	}
	return processImages(ctx, a, dir, pipelineOpts{constrained: cfg.kindle, convert: cfg.convert})
}

func runEpub(ctx context.Context, cfg cliConfig, a *Article) error {
	imageDir, err := os.MkdirTemp("", "readerlet-*")
	if err != nil {
		return fmt.Errorf("creating image directory: %w", err)
	}
	defer os.RemoveAll(imageDir)

	if err := localizeInto(ctx, cfg, a, imageDir); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	outPath := filepath.Join(cfg.output, outputFileName(a.Title, ".epub"))
	if err := buildEpub(a, imageDir, outPath); err != nil {
		return fmt.Errorf("building epub: %w", err)
	}
	pprintf("✓ %s (%d images)\n", outPath, len(a.Images))

	if !cfg.send {
		return nil
	}
	m := newMailer(cfg.delivery.Email, cfg.delivery.Kindle.Email)
	log.Infof("Sending to %s", m.to)
	if err := m.send(a.Title, outPath); err != nil {
		return err
	}
	pprintf("✓ sent to %s\n", m.to)
	return nil
}

// writeOutput prints body or writes it to name in the output directory.
func writeOutput(cfg cliConfig, a *Article, name, body string) error {
	if cfg.toStdout {
		_, err := os.Stdout.WriteString(body)
		return err
	}
	if err := os.MkdirAll(cfg.output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(cfg.output, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	pprintf("✓ %s (%d images)\n", path, len(a.Images))
	return nil
}

func main() {
	output := flag.String("o", ".", "Output directory")
	format := flag.String("format", "epub", "Output format: "+strings.Join(outputFormats, ", "))
	toStdout := flag.Bool("stdout", false, "Print html, md or text to stdout (images are removed)")
	noImages := flag.Bool("no-images", false, "Strip images instead of downloading them")
	noLinks := flag.Bool("no-links", false, "Strip hyperlink attributes")
	kindle := flag.Bool("kindle", true, "Convert WebP images to PNG for Kindle")
	maxWidth := flag.Int("max-width", 0, "Downscale converted images wider than this (0 = keep size)")
	grayscale := flag.Bool("grayscale", false, "Convert converted images to grayscale")
	extractorCmd := flag.String("extractor", "", "External readability command (receives the URL, prints JSON)")
	titleOverride := flag.String("title", "", "Override article title")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP fetch timeout for the article page")
	userAgent := flag.String("user-agent", defaultUA, "HTTP User-Agent header")
	proxy := flag.String("proxy", "", "HTTP proxy URL")
	send := flag.Bool("send", false, "Email the epub to the configured Kindle address")
	configPath := flag.String("config", "", "Config file (default: $XDG_CONFIG_HOME/readerlet/config.yaml)")
	silent := flag.Bool("silent", false, "Suppress all output except errors")
	verbose := flag.Bool("verbose", false, "Log debug output")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: readerlet [options] <URL>\n\n")
		fmt.Fprintf(os.Stderr, "Turn a web article into a Kindle-ready EPUB.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	setVerbosity(log, *silent, *verbose)
	if !*silent && !*toStdout {
		progressOut = os.Stdout
	}

	cfg := cliConfig{
		output:        *output,
		format:        *format,
		toStdout:      *toStdout,
		noImages:      *noImages,
		noLinks:       *noLinks,
		kindle:        *kindle,
		convert:       convertOpts{maxWidth: *maxWidth, grayscale: *grayscale},
		extractor:     *extractorCmd,
		titleOverride: *titleOverride,
		timeout:       *timeout,
		userAgent:     *userAgent,
		proxy:         *proxy,
		send:          *send,
		args:          flag.Args(),
	}

	if err := loadDotEnv(".env"); err != nil {
		log.Warn(err)
	}
	fc, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg.applyDefaults(fc.Defaults, set)
	cfg.delivery = fc

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			err = errors.New("interrupted")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
