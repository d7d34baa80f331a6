/*
 * vcpu32 - Log debug data to a file
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package debug

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Debug mask bits, one per subsystem that can be asked to narrate itself.
const (
	Core = 1 << iota
	Pipeline
	Memory
	TLB
	Assemble
)

var logFile *os.File = os.Stderr

var level int

// SetLogFile redirects debug output. Passing "" leaves it on stderr.
func SetLogFile(name string) error {
	if name == "" {
		logFile = os.Stderr
		return nil
	}
	file, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("unable to create debug file: %s", name)
	}
	logFile = file
	return nil
}

// Debug turns on the named subsystem's debug mask. Used by the DEBUG
// config-file directive, one name per subsystem: core, pipeline, memory,
// tlb, assemble.
func Debug(name string) error {
	switch strings.ToUpper(name) {
	case "CORE":
		level |= Core
	case "PIPELINE":
		level |= Pipeline
	case "MEMORY":
		level |= Memory
	case "TLB":
		level |= TLB
	case "ASSEMBLE":
		level |= Assemble
	default:
		return errors.New("unknown debug subsystem: " + name)
	}
	return nil
}

// Enabled reports whether mask is currently turned on.
func Enabled(mask int) bool {
	return level&mask != 0
}

// Debugf emits a message if mask is currently enabled.
func Debugf(mask int, format string, a ...interface{}) {
	if level&mask != 0 {
		fmt.Fprintf(logFile, format+"\n", a...)
	}
}
