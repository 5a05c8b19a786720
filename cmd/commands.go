package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/term"

	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/settings"
	"github.com/searchx/searchx/internal/tui"
)

// cliOptions are the flags shared by every adapter subcommand.
type cliOptions struct {
	configPath string
	local      bool
	debug      bool
}

func addCommonFlags(fs *flag.FlagSet) *cliOptions {
	opts := &cliOptions{}
	fs.StringVar(&opts.configPath, "config", "", "path to config file")
	fs.BoolVar(&opts.local, "local", false, "use the settings store directly, even if the daemon is running")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	return opts
}

// open loads config and connects to the router.
func (o *cliOptions) open(ctx context.Context) (adapter, *config.Config, error) {
	setupLogging(o.debug)
	cfg, _, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	a, err := connect(ctx, cfg, o.local)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// responseError turns a rejected reply into an error.
func responseError(resp gateway.Response) error {
	if resp.Success {
		return nil
	}
	if resp.Disabled {
		return errors.New("SearchX is disabled. Run `searchx set enabled true` to turn it back on")
	}
	if resp.ErrorKind == "" {
		return errors.New(resp.Error)
	}
	return fmt.Errorf("%s: %s", resp.ErrorKind, resp.Error)
}

// send is Send followed by responseError.
func send(ctx context.Context, a adapter, req gateway.Request) (gateway.Response, error) {
	resp, err := a.Send(ctx, req)
	if err != nil {
		return resp, err
	}
	return resp, responseError(resp)
}

// =============================================================================
// KEY
// =============================================================================

// runKey handles `searchx key set [KEY]` and `searchx key check`.
func runKey(args []string) error {
	fs := flag.NewFlagSet("key", flag.ExitOnError)
	opts := addCommonFlags(fs)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("usage: searchx key set [KEY] | searchx key check")
	}

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	switch rest[0] {
	case "set":
		key := strings.Join(rest[1:], "")
		if key == "" {
			key = tui.PromptPassword("Completion API key: ")
		}
		if _, err := send(ctx, a, gateway.Request{Kind: gateway.KindStoreAPIKey, Key: key}); err != nil {
			return err
		}
		tui.PrintSuccess("API key saved (" + settings.MaskAPIKey(key) + ")")
		return checkKey(ctx, a)
	case "check":
		return checkKey(ctx, a)
	default:
		return fmt.Errorf("unknown key command %q (expected set or check)", rest[0])
	}
}

func checkKey(ctx context.Context, a adapter) error {
	resp, err := send(ctx, a, gateway.Request{Kind: gateway.KindCheckAPIKey})
	if err != nil {
		return err
	}
	if resp.IsValid != nil && *resp.IsValid {
		tui.PrintSuccess(resp.Message)
		return nil
	}
	tui.PrintWarn(resp.Message)
	return errors.New("no usable API key. Run `searchx key set`")
}

// =============================================================================
// SET
// =============================================================================

// setFields are the settings `searchx set` can change.
var setFields = []string{"mode", "length", "language", "enabled", "role"}

// buildSetRequest maps `searchx set <field> <value>` onto a router message.
// Values are validated by the router, not here.
func buildSetRequest(field, value string) (gateway.Request, error) {
	switch strings.ToLower(field) {
	case "mode":
		return gateway.Request{Kind: gateway.KindSetMode, Mode: value}, nil
	case "length":
		return gateway.Request{Kind: gateway.KindSetLength, Length: value}, nil
	case "language", "lang":
		return gateway.Request{Kind: gateway.KindSetLanguage, Language: value}, nil
	case "role":
		return gateway.Request{Kind: gateway.KindSetUserRole, Role: value}, nil
	case "enabled":
		b, err := parseSwitch(value)
		if err != nil {
			return gateway.Request{}, err
		}
		return gateway.Request{Kind: gateway.KindSetEnabled, Enabled: &b}, nil
	default:
		return gateway.Request{}, fmt.Errorf("unknown setting %q (expected one of %s)", field, strings.Join(setFields, ", "))
	}
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid enabled value %q (expected true/false or on/off)", value)
	}
	return b, nil
}

// runSet handles `searchx set <field> <value>`.
func runSet(args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	opts := addCommonFlags(fs)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: searchx set <%s> <value>", strings.Join(setFields, "|"))
	}
	// An empty role clears it, every other field needs a value.
	if len(rest) < 2 && !strings.EqualFold(rest[0], "role") {
		return fmt.Errorf("missing value for %s", rest[0])
	}

	req, err := buildSetRequest(rest[0], strings.Join(rest[1:], " "))
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := send(ctx, a, req); err != nil {
		return err
	}
	tui.PrintSuccess(fmt.Sprintf("%s updated", rest[0]))
	return nil
}

// =============================================================================
// SIMPLIFY
// =============================================================================

var blankLine = regexp.MustCompile(`\n\s*\n`)

// splitParagraphs splits text on blank lines, dropping empty paragraphs.
func splitParagraphs(text string) []string {
	return lo.Compact(lo.Map(blankLine.Split(text, -1), func(p string, _ int) string {
		return strings.Join(strings.Fields(p), " ")
	}))
}

// readSelection takes the text from args, or from in when args are empty or "-".
func readSelection(args []string, in io.Reader, interactive bool) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if interactive && len(args) == 0 {
		return "", errors.New("no text given. Pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// runSimplify handles `searchx simplify [--title T] [--context FILE] [TEXT...]`.
func runSimplify(args []string) error {
	fs := flag.NewFlagSet("simplify", flag.ExitOnError)
	opts := addCommonFlags(fs)
	title := fs.String("title", "", "page title to send as background")
	contextFile := fs.String("context", "", "file whose paragraphs are sent as background")
	raw := fs.Bool("raw", false, "print only the result text")
	_ = fs.Parse(args)

	text, err := readSelection(fs.Args(), os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
	if err != nil {
		return err
	}

	var paragraphs []string
	if *contextFile != "" {
		data, err := os.ReadFile(*contextFile)
		if err != nil {
			return fmt.Errorf("failed to read context file: %w", err)
		}
		paragraphs = splitParagraphs(string(data))
	}

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if *title != "" || len(paragraphs) > 0 {
		if _, err := send(ctx, a, gateway.Request{Kind: gateway.KindSetContext, Title: *title, Paragraphs: paragraphs}); err != nil {
			return err
		}
	}

	resp, err := send(ctx, a, gateway.Request{Kind: gateway.KindSimplify, Text: text})
	if err != nil {
		return err
	}

	if *raw {
		fmt.Println(resp.Simplified)
		return nil
	}
	tui.PrintResult("SearchX", resp.Simplified)
	return nil
}

// =============================================================================
// SHOW / CLEAR
// =============================================================================

// runShow prints the settings and the cached result.
func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	opts := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "print as JSON")
	_ = fs.Parse(args)

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	settingsResp, err := send(ctx, a, gateway.Request{Kind: gateway.KindGetSettings})
	if err != nil {
		return err
	}
	resultResp, err := send(ctx, a, gateway.Request{Kind: gateway.KindGetSimplification})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"settings": settingsResp.Settings,
			"result":   resultResp.Result,
		})
	}

	tui.PrintHeader("SearchX Settings")
	if s := settingsResp.Settings; s != nil {
		printSettings(*s)
	}
	tui.PrintField("source", a.Name())

	if r := resultResp.Result; r != nil {
		tui.PrintResult(fmt.Sprintf("Last result (%s ago)", time.Since(r.CreatedAt).Round(time.Second)), r.ResultText)
		tui.PrintField("original", r.OriginalText)
	} else {
		fmt.Println()
		tui.PrintInfo("No simplification cached")
	}
	return nil
}

func printSettings(s settings.Settings) {
	tui.PrintField("enabled", strconv.FormatBool(s.Enabled))
	tui.PrintField("mode", string(s.Mode))
	tui.PrintField("length", fmt.Sprintf("%s (up to %d words)", s.Length, settings.WordCeiling(s.Length)))
	tui.PrintField("language", fmt.Sprintf("%s (%s)", s.Language, s.Language.Name()))
	tui.PrintField("role", lo.Ternary(s.UserRole == "", "-", s.UserRole))
	tui.PrintField("api key", lo.Ternary(s.APIKey == "", "not set", s.APIKey))
}

// runClear discards the cached result.
func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	opts := addCommonFlags(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := send(ctx, a, gateway.Request{Kind: gateway.KindClearSimplification}); err != nil {
		return err
	}
	tui.PrintSuccess("Last simplification cleared")
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// fetchStats reads the daemon counters.
func fetchStats(baseURL string) (map[string]int64, error) {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(baseURL + "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

// runStatus reports whether the daemon is up and prints its counters.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	setupLogging(*debug)
	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	tui.PrintField("config", source)

	base := daemonURL(cfg)
	if !checkGatewayRunning(base) {
		tui.PrintWarn("Daemon is not running on " + base + ". Start it with `searchx serve`")
		return nil
	}
	tui.PrintSuccess("Daemon is active on " + base)

	stats, err := fetchStats(base)
	if err != nil {
		return err
	}
	names := lo.Keys(stats)
	sort.Strings(names)
	for _, name := range names {
		tui.PrintField(name, strconv.FormatInt(stats[name], 10))
	}
	return nil
}
