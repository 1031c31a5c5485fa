// Package cli provides interactive terminal prompts for the hub's setup
// wizard and account commands.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrNoInput is returned when input ends before a valid answer was given.
var ErrNoInput = errors.New("no input")

// Prompter handles interactive terminal prompts.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	scanner *bufio.Scanner
}

// DefaultPrompter returns a Prompter connected to stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

// readLine reads one trimmed line. ok is false once input is exhausted.
func (p *Prompter) readLine() (line string, ok bool) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// Ask prints a question with a default value and reads one line.
// Returns the default if the user presses Enter without typing.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		p.printf("%s [%s]: ", question, defaultVal)
	} else {
		p.printf("%s: ", question)
	}
	if line, _ := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskRequired repeats the question until a non-empty answer passes check.
// A nil check accepts any non-empty answer.
func (p *Prompter) AskRequired(question, defaultVal string, check func(string) error) (string, error) {
	for {
		if defaultVal != "" {
			p.printf("%s [%s]: ", question, defaultVal)
		} else {
			p.printf("%s: ", question)
		}
		line, ok := p.readLine()
		if line == "" {
			line = defaultVal
		}
		if line != "" {
			if check == nil {
				return line, nil
			}
			err := check(line)
			if err == nil {
				return line, nil
			}
			p.printf("  %v\n", err)
		}
		if !ok {
			return "", ErrNoInput
		}
	}
}

// AskEmail asks for an email address.
func (p *Prompter) AskEmail(question, defaultVal string) (string, error) {
	return p.AskRequired(question, defaultVal, func(s string) error {
		at := strings.IndexByte(s, '@')
		if at < 1 || at == len(s)-1 {
			return errors.New("please enter a valid email address")
		}
		return nil
	})
}

// AskPassword reads a line without echoing. Falls back to plain read if
// stdin is not a terminal (e.g. during tests or piped input).
func (p *Prompter) AskPassword(question string) string {
	p.printf("%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		p.printf("\n") // newline after hidden input
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}

	line, _ := p.readLine()
	return line
}

// NewPassword asks for a password of at least minLen characters and for
// its confirmation, repeating until both match.
func (p *Prompter) NewPassword(question string, minLen int) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		pw := p.AskPassword(question)
		if utf8.RuneCountInString(pw) < minLen {
			p.printf("  Password must be at least %d characters.\n", minLen)
			continue
		}
		if p.AskPassword("  Confirm password") != pw {
			p.printf("  Passwords do not match.\n")
			continue
		}
		return pw, nil
	}
	return "", ErrNoInput
}

// AskInt asks for a positive integer with a default value.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	for {
		ans := p.Ask(question, strconv.Itoa(defaultVal))
		if n, err := strconv.Atoi(ans); err == nil && n > 0 {
			return n
		}
		p.printf("  Please enter a positive number.\n")
	}
}

// Choose presents a numbered list of options and returns the selected value.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	p.printf("%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		p.printf("%s%d) %s\n", marker, i+1, opt)
	}

	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		p.printf("  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
