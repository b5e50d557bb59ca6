package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"
)

// openTTY returns the controlling terminal, so that prompts still work when
// stdin or stdout are redirected.
func openTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}

// confirm asks a yes/no question. --yes answers it without asking. Without
// a terminal the answer is no.
func confirm(question string) (bool, error) {
	if settingsViper != nil && settingsViper.GetBool("yes") {
		return true, nil
	}

	var ui *input.UI
	tty_, err := openTTY()
	if err != nil {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			log.Debug().Err(err).Msg("No terminal to confirm on")
			return false, nil
		}
		ui = &input.UI{Writer: os.Stderr, Reader: os.Stdin}
	} else {
		defer func() {
			if err := tty_.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close tty")
			}
		}()
		ui = &input.UI{Writer: tty_, Reader: tty_}
	}

	answer, err := ui.Ask(question+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	a := strings.ToLower(answer)
	return a == "y" || a == "yes", nil
}
