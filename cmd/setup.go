package main

// Interactive first-run setup: config file, API key and output preferences.

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/samber/lo"

	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/settings"
	"github.com/searchx/searchx/internal/tui"
)

var modeDescriptions = map[settings.Mode]string{
	settings.ModeExplain:   "plain-language explanation",
	settings.ModeSummarize: "short summary",
	settings.ModeLookup:    "encyclopedia-style definition",
}

// runSetup walks through the settings a new install needs.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	opts := addCommonFlags(fs)
	_ = fs.Parse(args)

	tui.PrintBanner()
	tui.PrintHeader("SearchX Setup")

	if opts.configPath == "" {
		if err := ensureConfigFile(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	a, _, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	tui.PrintInfo("Saving settings to " + a.Name())

	if err := setupAPIKey(ctx, a); err != nil {
		return err
	}

	resp, err := send(ctx, a, gateway.Request{Kind: gateway.KindGetSettings})
	if err != nil {
		return err
	}
	current := settings.Defaults()
	if resp.Settings != nil {
		current = *resp.Settings
	}

	mode, err := chooseOption("What should SearchX do with highlighted text?", settings.Modes, current.Mode,
		func(m settings.Mode) string { return modeDescriptions[m] })
	if err != nil {
		return err
	}
	length, err := chooseOption("How long should answers be?", settings.Lengths, current.Length,
		func(l settings.Length) string { return fmt.Sprintf("up to %d words", settings.WordCeiling(l)) })
	if err != nil {
		return err
	}
	lang, err := chooseOption("Answer language", settings.Languages, current.Language,
		func(l settings.Language) string { return l.Name() })
	if err != nil {
		return err
	}

	tui.PrintInfo("Optional: describe yourself so answers fit you (e.g. \"nursing student\").")
	role := tui.PromptString(fmt.Sprintf("Role [%s]: ", lo.Ternary(current.UserRole == "", "none", current.UserRole)))
	if role == "" {
		role = current.UserRole
	}

	enabled := true
	for _, req := range []gateway.Request{
		{Kind: gateway.KindSetMode, Mode: string(mode)},
		{Kind: gateway.KindSetLength, Length: string(length)},
		{Kind: gateway.KindSetLanguage, Language: string(lang)},
		{Kind: gateway.KindSetUserRole, Role: role},
		{Kind: gateway.KindSetEnabled, Enabled: &enabled},
	} {
		if _, err := send(ctx, a, req); err != nil {
			return err
		}
	}

	resp, err = send(ctx, a, gateway.Request{Kind: gateway.KindGetSettings})
	if err != nil {
		return err
	}
	fmt.Println()
	tui.PrintSuccess("Setup complete")
	if resp.Settings != nil {
		printSettings(*resp.Settings)
	}
	fmt.Println()
	tui.PrintStep("Start the daemon for the browser extension: searchx serve")
	return nil
}

// ensureConfigFile offers to write the default config to the XDG config dir.
func ensureConfigFile() error {
	if p, err := xdg.SearchConfigFile(configRelPath); err == nil {
		tui.PrintInfo("Using config " + p)
		return nil
	}

	path, err := xdg.ConfigFile(configRelPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if !tui.PromptYesNo("Write a config file to "+path+"?", true) {
		tui.PrintInfo("Skipped - using built-in defaults")
		return nil
	}

	data, err := getEmbeddedConfig(defaultConfigName)
	if err != nil {
		return fmt.Errorf("failed to read default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	tui.PrintSuccess("Config written to " + path)
	return nil
}

// setupAPIKey prompts for a key unless a usable one is saved and kept.
func setupAPIKey(ctx context.Context, a adapter) error {
	fmt.Println()
	resp, err := send(ctx, a, gateway.Request{Kind: gateway.KindCheckAPIKey})
	if err != nil {
		return err
	}
	if resp.IsValid != nil && *resp.IsValid && !tui.PromptYesNo("An API key is already saved. Replace it?", false) {
		return nil
	}

	fmt.Println("  SearchX needs a key for the chat-completion endpoint in your config.")
	fmt.Println()
	key := tui.PromptPassword("API key: ")
	if key == "" {
		tui.PrintWarn("No key entered. Add one later with `searchx key set`")
		return nil
	}
	if !settings.ValidAPIKey(key) {
		tui.PrintWarn("That key looks too short. Saving it anyway")
	}
	if _, err := send(ctx, a, gateway.Request{Kind: gateway.KindStoreAPIKey, Key: key}); err != nil {
		return err
	}
	tui.PrintSuccess("API key saved")
	return nil
}

// chooseOption shows options as a menu with the current one marked.
// Cancelling keeps current.
func chooseOption[T ~string](prompt string, options []T, current T, describe func(T) string) (T, error) {
	items := lo.Map(options, func(o T, _ int) tui.MenuItem {
		desc := describe(o)
		if o == current {
			desc += " (current)"
		}
		return tui.MenuItem{Label: string(o), Description: desc, Value: string(o)}
	})

	idx, err := tui.SelectMenu(prompt, items)
	if errors.Is(err, tui.ErrCancelled) {
		return current, nil
	}
	if err != nil {
		return current, err
	}
	return options[idx], nil
}
