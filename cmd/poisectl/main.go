// poisectl is the command-line companion to the Poise gateway: submit a
// recording and wait for the verdict, check on an earlier one, list
// history, or watch a directory and submit recordings as they finish.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/poiselabs/poise-gateway/internal/analysis"
	"github.com/poiselabs/poise-gateway/internal/api"
	"github.com/poiselabs/poise-gateway/internal/client"
	"github.com/poiselabs/poise-gateway/internal/config"
)

const (
	defaultServer = "http://127.0.0.1:8090"

	// Environment fallbacks for the connection flags.
	envServer = "POISE_SERVER"
	envToken  = "POISE_TOKEN"
)

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("poisectl: %v", err)
	}
}

func run(args []string) error {
	// .env keeps POISE_TOKEN out of shell history; a missing file is fine.
	_ = godotenv.Load()

	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "submit":
		return cmdSubmit(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "history":
		return cmdHistory(args[1:])
	case "watch":
		return cmdWatch(args[1:])
	case "token":
		return cmdToken(args[1:])
	case "health":
		return cmdHealth(args[1:])
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: poisectl <command> [flags]

commands:
  submit <video>   upload a recording and wait for the analysis
  status <name>    check whether an analysis of the named file completed
  history          list past analyses, newest first
  watch            watch a directory and submit recordings as they settle
  token            mint a dev session token from the gateway secret
  health           probe the gateway and its analysis backend

run "poisectl <command> -h" for the command's flags
`)
}

// conn carries the flags every gateway-facing command shares.
type conn struct {
	server string
	token  string
}

func connFlags(fs *flag.FlagSet) *conn {
	c := &conn{}
	fs.StringVar(&c.server, "server", envOr(envServer, defaultServer), "gateway base URL ("+envServer+")")
	fs.StringVar(&c.token, "token", os.Getenv(envToken), "bearer session token ("+envToken+")")
	return c
}

func (c *conn) client() *client.Client {
	return client.New(client.Options{
		BaseURL: c.server,
		Token:   c.token,
		Logger:  cliLogger(slog.LevelWarn),
	})
}

func cmdSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	cn := connFlags(fs)
	displayName := fs.String("name", "", "display name shown in history")
	wait := fs.Bool("wait", true, "poll for the result when the gateway reports processing")
	pollInterval := fs.Duration("poll-interval", config.DefaultPollInterval, "status poll cadence")
	pollBudget := fs.Int("poll-budget", config.DefaultPollBudget, "maximum status polls before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("submit takes exactly one video file")
	}
	videoPath := fs.Arg(0)

	ctx, cancel := signalContext()
	defer cancel()

	c := cn.client()
	if !*wait {
		res, err := c.SubmitVideo(ctx, videoPath, *displayName)
		if err != nil {
			return err
		}
		if res.Result != nil {
			printResult(res.Result)
			return nil
		}
		fmt.Printf("job %s %s: %s\n", res.JobID, res.Status, res.Message)
		return nil
	}

	p := client.NewPoller(c, config.Timeouts{
		PollInterval:  *pollInterval,
		PollBudget:    *pollBudget,
		StatusTimeout: config.DefaultStatusTimeout,
	}, cliLogger(slog.LevelWarn))
	p.OnTransition = func(from, to client.PollState) {
		fmt.Fprintf(os.Stderr, "%s -> %s\n", from, to)
	}

	result, err := p.SubmitAndWait(ctx, videoPath, *displayName)
	if errors.Is(err, client.ErrPollBudgetExhausted) {
		fmt.Printf("no result yet; the analysis may still be running\ncheck later with: poisectl status %s\n",
			filepath.Base(videoPath))
		return nil
	}
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cn := connFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("status takes exactly one video file name")
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := cn.client().CheckStatus(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if !res.Completed {
		fmt.Println("not completed yet: still processing, or never submitted")
		return nil
	}
	printResult(res.Data)
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	cn := connFlags(fs)
	limit := fs.Int("limit", 20, "records per page")
	offset := fs.Int("offset", 0, "records to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	page, err := cn.client().History(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	if len(page.Records) == 0 {
		fmt.Println("no analyses yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tID\tVIDEO\tGESTURE\tSMILE\tSCORE")
	for _, rec := range page.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			shortID(rec.ID),
			rec.VideoName,
			okMark(rec.GestureSuccess),
			okMark(rec.SmileSuccess),
			fmtScore(rec.SmileScore),
		)
	}
	w.Flush()
	fmt.Printf("showing %d of %d\n", len(page.Records), page.Total)
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	cn := connFlags(fs)
	dir := fs.String("dir", ".", "directory to watch for finished recordings")
	scanInterval := fs.Duration("scan-interval", 5*time.Second, "directory scan cadence")
	pollInterval := fs.Duration("poll-interval", config.DefaultPollInterval, "status poll cadence")
	pollBudget := fs.Int("poll-budget", config.DefaultPollBudget, "maximum status polls per recording")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := cliLogger(slog.LevelInfo)
	p := client.NewPoller(cn.client(), config.Timeouts{
		PollInterval:  *pollInterval,
		PollBudget:    *pollBudget,
		StatusTimeout: config.DefaultStatusTimeout,
	}, logger)

	w, err := client.NewWatcher(client.WatcherConfig{
		Dir:          *dir,
		ScanInterval: *scanInterval,
		Submit: func(ctx context.Context, path string) error {
			res, err := p.SubmitAndWait(ctx, path, "")
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	w.Start(ctx)
	return nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id for the token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := fs.String("secret", os.Getenv(config.EnvAuthSecret), "gateway HMAC secret ("+config.EnvAuthSecret+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return errors.New("-owner is required")
	}
	if len(*secret) < config.MinAuthSecretLen {
		return fmt.Errorf("secret must be at least %d bytes", config.MinAuthSecretLen)
	}

	tok, err := api.NewTokenVerifier([]byte(*secret)).IssueToken(*owner, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func cmdHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	cn := connFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	h, err := cn.client().Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("gateway: %s, version %s, up %s\n",
		h.Status, h.Version, time.Duration(h.UptimeS)*time.Second)
	if h.Backend.Available {
		fmt.Println("backend: available")
	} else {
		fmt.Println("backend: unavailable")
	}
	return nil
}

func printResult(res *analysis.Result) {
	fmt.Printf("analysis %s\n", res.ID)
	fmt.Printf("  video:          %s\n", res.VideoName)
	if res.DisplayName != "" && res.DisplayName != res.VideoName {
		fmt.Printf("  display name:   %s\n", res.DisplayName)
	}
	fmt.Printf("  gesture model:  %s\n", okMark(res.GestureSuccess))
	if res.GestureSuccess {
		fmt.Printf("    self touch:        %s\n", fmtScore(res.SelfTouch))
		fmt.Printf("    hands on table:    %s\n", fmtScore(res.HandsOnTable))
		fmt.Printf("    hidden hands:      %s\n", fmtScore(res.HiddenHands))
		fmt.Printf("    gestures on table: %s\n", fmtScore(res.GesturesOnTable))
		fmt.Printf("    other gestures:    %s\n", fmtScore(res.OtherGestures))
	} else if res.GestureError != nil {
		fmt.Printf("    error: %s\n", *res.GestureError)
	}
	fmt.Printf("  smile model:    %s\n", okMark(res.SmileSuccess))
	if res.SmileSuccess {
		fmt.Printf("    score: %s", fmtScore(res.SmileScore))
		if res.SmileInterpretation != nil {
			fmt.Printf(" (%s)", *res.SmileInterpretation)
		}
		fmt.Println()
	} else if res.SmileError != nil {
		fmt.Printf("    error: %s\n", *res.SmileError)
	}
	if res.VideoDuration != nil {
		fmt.Printf("  video duration: %.1fs\n", *res.VideoDuration)
	}
	if res.ProcessingSeconds != nil {
		fmt.Printf("  processing:     %.1fs\n", *res.ProcessingSeconds)
	}
	fmt.Printf("  created:        %s\n", res.CreatedAt.Local().Format(time.RFC1123))
}

func okMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// cliLogger writes text to stderr so log lines never mix into command
// output.
func cliLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
