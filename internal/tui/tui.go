package tui

// TUI package provides the terminal pieces of the SearchX CLI:
//   - Colored status lines
//   - Arrow-key menu selection (numbered fallback when not a TTY)
//   - Hidden API key prompt
//   - Wrapped result panel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrCancelled is returned when the user backs out of a menu.
var ErrCancelled = errors.New("cancelled")

// =============================================================================
// COLORS
// =============================================================================

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
	ColorBrand  = "\033[38;2;66;133;244m"
)

// =============================================================================
// PRINT FUNCTIONS
// =============================================================================

// PrintBanner displays the SearchX banner.
func PrintBanner() {
	fmt.Printf("%s%s", ColorBrand, ColorBold)
	fmt.Println(`
  ____                      _    __  __
 / ___|  ___  __ _ _ __ ___| |__ \ \/ /
 \___ \ / _ \/ _' | '__/ __| '_ \ \  /
  ___) |  __/ (_| | | | (__| | | |/  \
 |____/ \___|\__,_|_|  \___|_| |_/_/\_\`)
	fmt.Print(ColorReset)
}

// PrintHeader prints a styled section header.
func PrintHeader(title string) {
	fmt.Printf("\n%s%s========================================%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Printf("%s%s       %s%s\n", ColorBold, ColorCyan, title, ColorReset)
	fmt.Printf("%s%s========================================%s\n\n", ColorBold, ColorCyan, ColorReset)
}

// PrintSuccess prints a success message with green [OK] prefix.
func PrintSuccess(msg string) {
	fmt.Printf("%s[OK]%s %s\n", ColorGreen, ColorReset, msg)
}

// PrintInfo prints an info message with blue [INFO] prefix.
func PrintInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", ColorBlue, ColorReset, msg)
}

// PrintWarn prints a warning message with yellow [WARN] prefix.
func PrintWarn(msg string) {
	fmt.Printf("%s[WARN]%s %s\n", ColorYellow, ColorReset, msg)
}

// PrintError prints an error message with red [ERROR] prefix.
func PrintError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", ColorRed, ColorReset, msg)
}

// PrintStep prints a step/action message with cyan >>> prefix.
func PrintStep(msg string) {
	fmt.Printf("%s>>>%s %s\n", ColorCyan, ColorReset, msg)
}

// PrintField prints an aligned "label: value" line.
func PrintField(label, value string) {
	fmt.Printf("  %s%-10s%s %s\n", ColorDim, label+":", ColorReset, value)
}

// PrintResult prints text in a titled panel wrapped to the terminal width.
func PrintResult(title, text string) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w - 4
	}
	fmt.Printf("\n%s%s%s%s\n", ColorBold, ColorGreen, title, ColorReset)
	for _, line := range WrapText(text, width) {
		fmt.Printf("  %s\n", line)
	}
	fmt.Println()
}

// WrapText breaks text into lines of at most width runes, splitting on
// whitespace. Paragraph breaks are kept; words longer than width stand alone.
func WrapText(text string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if len([]rune(line))+1+len([]rune(w)) > width {
				lines = append(lines, line)
				line = w
				continue
			}
			line += " " + w
		}
		lines = append(lines, line)
	}
	return lines
}

// =============================================================================
// MENU SELECTION
// =============================================================================

// MenuItem represents an item in a menu.
type MenuItem struct {
	Label       string // Display label
	Description string // Optional description (current value, hint)
	Value       string // Return value (if different from label)
}

// SelectMenu displays an interactive arrow-key menu and returns the selected index.
// Returns -1 and ErrCancelled if the user backs out.
func SelectMenu(prompt string, items []MenuItem) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select")
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return selectNumberedMenu(os.Stdin, os.Stdout, prompt, items)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return selectNumberedMenu(os.Stdin, os.Stdout, prompt, items)
	}
	defer term.Restore(fd, oldState)

	selected := 0
	reader := bufio.NewReader(os.Stdin)
	totalLines := 3 + len(items) + 2 // prompt + blank + items + blank + help

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	clearMenu := func() {
		fmt.Printf("\033[%dA", totalLines)
		for i := 0; i < totalLines; i++ {
			fmt.Print("\033[2K\n")
		}
		fmt.Printf("\033[%dA", totalLines)
	}

	firstRender := true
	renderMenu := func() {
		if !firstRender {
			fmt.Printf("\033[%dA", totalLines)
		}
		firstRender = false

		fmt.Print("\033[2K")
		fmt.Printf("\r\n%s%s%s%s\n\n", ColorBold, ColorCyan, prompt, ColorReset)
		for i, item := range items {
			fmt.Print("\033[2K")
			if i == selected {
				fmt.Printf("\r  %s❯%s %s%s%s", ColorGreen, ColorReset, ColorBold, item.Label, ColorReset)
			} else {
				fmt.Printf("\r    %s", item.Label)
			}
			if item.Description != "" {
				fmt.Printf(" %s- %s%s", ColorDim, item.Description, ColorReset)
			}
			fmt.Print("\n")
		}
		fmt.Print("\033[2K")
		fmt.Printf("\r\n  %s[↑/↓] Navigate  [Enter] Select  [q/Esc] Cancel%s\n", ColorDim, ColorReset)
	}

	renderMenu()
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return -1, err
		}

		switch b {
		case 27: // Escape or arrow sequence
			if next, _ := reader.ReadByte(); next == '[' {
				arrow, _ := reader.ReadByte()
				switch arrow {
				case 'A':
					if selected > 0 {
						selected--
					}
					renderMenu()
					continue
				case 'B':
					if selected < len(items)-1 {
						selected++
					}
					renderMenu()
					continue
				}
			}
			clearMenu()
			return -1, ErrCancelled
		case 'q', 3: // q or Ctrl-C
			clearMenu()
			return -1, ErrCancelled
		case 'k':
			if selected > 0 {
				selected--
			}
			renderMenu()
		case 'j':
			if selected < len(items)-1 {
				selected++
			}
			renderMenu()
		case 13: // Enter
			clearMenu()
			return selected, nil
		}
	}
}

// selectNumberedMenu is a fallback for non-interactive terminals.
func selectNumberedMenu(in io.Reader, out io.Writer, prompt string, items []MenuItem) (int, error) {
	fmt.Fprintf(out, "\n%s%s%s%s\n\n", ColorBold, ColorCyan, prompt, ColorReset)

	for i, item := range items {
		fmt.Fprintf(out, "  %s[%d]%s %s", ColorGreen, i+1, ColorReset, item.Label)
		if item.Description != "" {
			fmt.Fprintf(out, " %s- %s%s", ColorDim, item.Description, ColorReset)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "  %s[0]%s Cancel\n\n", ColorYellow, ColorReset)

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Enter number: ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		if input == "0" || input == "q" {
			return -1, ErrCancelled
		}

		var num int
		if _, scanErr := fmt.Sscanf(input, "%d", &num); scanErr == nil && num >= 1 && num <= len(items) {
			return num - 1, nil
		}
		if err != nil {
			return -1, ErrCancelled
		}
		fmt.Fprintf(out, "Invalid choice. Enter 1-%d or 0 to cancel.\n", len(items))
	}
}

// =============================================================================
// PROMPTS
// =============================================================================

// PromptString prompts for a string input. Returns empty if skipped.
func PromptString(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// PromptYesNo prompts for a yes/no response. Returns the default if empty.
func PromptYesNo(prompt string, defaultYes bool) bool {
	return promptYesNo(os.Stdin, os.Stdout, prompt, defaultYes)
}

func promptYesNo(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}
	fmt.Fprint(out, prompt+suffix)

	input, _ := bufio.NewReader(in).ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return defaultYes
	}
	return input == "y" || input == "yes"
}

// PromptPassword prompts for a secret (hidden input when stdin is a TTY).
func PromptPassword(prompt string) string {
	fmt.Print(prompt)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
