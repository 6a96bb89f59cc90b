// Package listener is the terminal stand-in for a microphone: each line the
// user types is one utterance.
package listener

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// ErrClosed is returned by GetInput once the terminal is closed (Ctrl+D).
var ErrClosed = errors.New("console closed")

type Console struct {
	rl *readline.Instance

	mu        sync.Mutex
	holdAsync bool
	heldLines []string
}

func NewConsole(historyFile string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl}, nil
}

func (c *Console) Close() {
	if c.rl != nil {
		_ = c.rl.Close()
	}
}

func (c *Console) SetPrompt(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rl.SetPrompt(p)
}

// BeginInteractive holds async output until EndInteractive, so questions are
// not interleaved with event output.
func (c *Console) BeginInteractive() {
	c.mu.Lock()
	c.holdAsync = true
	c.mu.Unlock()
}

func (c *Console) EndInteractive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdAsync = false
	for _, s := range c.heldLines {
		c.printAboveUnlocked(s)
	}
	c.heldLines = nil
}

func (c *Console) printAboveUnlocked(s string) {
	if c.rl == nil {
		fmt.Println(s)
		return
	}
	_, _ = c.rl.Write([]byte("\r\n" + s + "\r\n"))
	c.rl.Refresh()
}

func (c *Console) PrintAbove(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printAboveUnlocked(s)
}

// AsyncPrintln prints without breaking the line being typed.
func (c *Console) AsyncPrintln(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holdAsync {
		c.heldLines = append(c.heldLines, s)
		return
	}
	c.printAboveUnlocked(s)
}

func (c *Console) GetInput() (string, error) {
	line, err := c.rl.Readline()
	switch {
	case errors.Is(err, io.EOF):
		return "", ErrClosed
	case errors.Is(err, readline.ErrInterrupt):
		return "", nil
	case err != nil:
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) GetConfirmation(prompt string) string {
	c.mu.Lock()
	old := c.rl.Config.Prompt
	c.rl.SetPrompt(prompt)
	c.mu.Unlock()

	line, err := c.rl.Readline()
	if err != nil {
		line = ""
	}
	ans := strings.TrimSpace(strings.ToLower(line))

	c.mu.Lock()
	c.rl.SetPrompt(old)
	c.mu.Unlock()
	return ans
}

func (c *Console) AskYesNo(question string) bool {
	c.BeginInteractive()
	defer c.EndInteractive()

	c.PrintAbove(question + " [y/n]")
	for {
		ans := c.GetConfirmation("> ")
		if ans == "y" || ans == "yes" {
			return true
		}
		if ans == "n" || ans == "no" {
			return false
		}
		c.PrintAbove("Please answer y/n.")
	}
}

// AskChoice lists options and returns the picked index, or -1 when the user
// skips with an empty answer.
func (c *Console) AskChoice(question string, options []string) int {
	c.BeginInteractive()
	defer c.EndInteractive()

	var sb strings.Builder
	sb.WriteString(question)
	for i, o := range options {
		sb.WriteString(fmt.Sprintf("\n  %d) %s", i+1, o))
	}
	c.PrintAbove(sb.String())
	for {
		ans := c.GetConfirmation("number (empty to skip) > ")
		if ans == "" {
			return -1
		}
		n, err := strconv.Atoi(ans)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1
		}
		c.PrintAbove(fmt.Sprintf("Please enter a number between 1 and %d.", len(options)))
	}
}
