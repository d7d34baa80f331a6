/*
   reader: runs the interactive console loop around command/parser,
   line-edited via peterh/liner. Grounded directly on the teacher's
   command/reader package; only the core type behind the prompt and
   the prompt string changed.

   Copyright (c) 2026, VCPU-32 Project Contributors
*/
package reader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/peterh/liner"

	"github.com/hff-git/vcpu32/command/parser"
	"github.com/hff-git/vcpu32/emu/core"
)

// ConsoleReader runs an interactive read-step-print loop against d
// until the user quits or aborts the prompt (Ctrl-D/Ctrl-C).
func ConsoleReader(d *core.Driver) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		command, err := line.Prompt("vcpu32> ")
		if err == nil {
			line.AppendHistory(command)
			quit, err := parser.ProcessCommand(command, d)
			if err != nil {
				fmt.Println("error: " + err.Error())
			}
			if quit {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		slog.Error("error reading line: " + err.Error())
		return
	}
}
