package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/proc"
)

// listFileLineByPc lists the source around the current location.
func (s *session) listFileLineByPc(rangeline int) error {
	if !s.alive() {
		return proc.ErrProcessExited
	}
	loc, err := s.proc.Location()
	if err != nil {
		return err
	}
	l, ok := s.bi.ResolveLine(loc)
	if !ok {
		return bininfo.ErrNotFoundSourceLine
	}
	s.logger.Debug("list", zap.Int(l.File, l.Line))
	return s.listFileLine(l.File, l.Line, rangeline)
}

// listFileLine prints rangeline lines either side of lineno, marking lineno.
func (s *session) listFileLine(filename string, lineno int, rangeline int) error {
	if src, ok := s.bi.FindSource(filename); ok {
		filename = src
	}
	rangeMin := lineno - rangeline
	rangeMax := lineno + rangeline

	if rangeMin < 1 {
		rangeMin = 1
	}

	if rangeMax-rangeMin <= 0 {
		return errors.New("not right lineno or rangeline")
	}

	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := bufio.NewReader(file)

	out := make([]string, 0, rangeMax-rangeMin+2)
	out = append(out, fmt.Sprintf("list %s:%d\n", filename, lineno))
	for curLine := 1; curLine <= rangeMax; curLine++ {
		lineBytes, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if lineBytes == "" && err == io.EOF {
			break
		}
		if !strings.HasSuffix(lineBytes, "\n") {
			lineBytes += "\n"
		}
		if rangeMin <= curLine {
			if curLine == lineno {
				out = append(out, fmt.Sprintf("==>%7d: %s", curLine, lineBytes))
			} else {
				out = append(out, fmt.Sprintf("   %7d: %s", curLine, lineBytes))
			}
		}
		if err == io.EOF {
			break
		}
	}

	fmt.Fprint(s.stdout, strings.Join(out, ""))
	return nil
}
