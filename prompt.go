package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

const maxSuggestions = 30

func (s *session) executor(input string) {
	input = strings.TrimSpace(input)
	s.logger.Debug("executor", zap.String("input", input))
	if len(input) == 0 {
		return
	}
	sps := strings.Fields(input)
	cmd, args := sps[0], sps[1:]

	switch cmd {
	case "q", "quit":
		s.kill()
		s.quit = true
		return
	case "r", "run":
		s.run(strings.TrimSpace(strings.TrimPrefix(input, cmd)))
		return
	case "c", "cont", "continue":
		if len(args) == 0 {
			s.cont()
			return
		}
	case "s", "stepi":
		if len(args) == 0 {
			s.stepi()
			return
		}
	case "b", "break":
		if len(args) == 1 {
			s.addBreakpoint(args[0])
			return
		}
	case "bl":
		if len(args) == 0 {
			s.listBreakpoints()
			return
		}
	case "d", "delete":
		if len(args) == 1 {
			s.deleteBreakpoint(args[0])
			return
		}
	case "bt", "back", "backtrace":
		if len(args) == 0 {
			s.backtrace()
			return
		}
	case "l", "list":
		s.list(input, args)
		return
	case "disass", "disassemble":
		count := s.cfg.DisassembleCount
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				s.printUnsupportCmd(input)
				return
			}
			count = n
		}
		if len(args) <= 1 {
			if err := s.listDisassemble(count); err != nil {
				s.printErr(err)
			}
			return
		}
	case "regs":
		if len(args) == 0 {
			if err := s.printRegisters(); err != nil {
				s.printErr(err)
			}
			return
		}
	}
	s.printUnsupportCmd(input)
}

func (s *session) list(input string, args []string) {
	switch len(args) {
	case 0:
		if err := s.listFileLineByPc(s.cfg.SourceListLines); err != nil {
			s.printErr(err)
		}
		return
	case 1, 2:
		filename, line, err := parseLoc(args[0])
		if err != nil {
			s.printUnsupportCmd(input)
			return
		}
		rangeline := s.cfg.SourceListLines
		if len(args) == 2 {
			if rangeline, err = strconv.Atoi(args[1]); err != nil {
				s.printUnsupportCmd(input)
				return
			}
		}
		if err = s.listFileLine(filename, line, rangeline); err != nil {
			s.printErr(err)
		}
		return
	}
	s.printUnsupportCmd(input)
}

var commandSuggests = []prompt.Suggest{
	{Text: "run", Description: "start the program, killing the current one"},
	{Text: "continue", Description: "resume until the next breakpoint"},
	{Text: "stepi", Description: "execute one instruction"},
	{Text: "break", Description: "set a breakpoint at *addr, function or file:line"},
	{Text: "bl", Description: "list breakpoints"},
	{Text: "delete", Description: "delete a breakpoint by number or *addr"},
	{Text: "backtrace", Description: "print the call stack"},
	{Text: "list", Description: "list source"},
	{Text: "disass", Description: "disassemble at the current location"},
	{Text: "regs", Description: "print registers"},
	{Text: "quit", Description: "kill the program and exit"},
}

func (s *session) complete(docs prompt.Document) []prompt.Suggest {
	sps := strings.Split(docs.TextBeforeCursor(), " ")
	if len(sps) == 1 {
		return prompt.FilterHasPrefix(commandSuggests, sps[0], false)
	}
	if len(sps) != 2 {
		return nil
	}
	switch sps[0] {
	case "b", "break":
		suggests := s.completeSource(sps[1])
		for _, name := range s.bi.FunctionsWithPrefix(sps[1]) {
			if len(suggests) >= maxSuggestions {
				break
			}
			suggests = append(suggests, prompt.Suggest{Text: name})
		}
		return suggests
	case "l", "list":
		return s.completeSource(sps[1])
	}
	return nil
}

func (s *session) completeSource(input string) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0)
	curWd, _ := os.Getwd()
	for _, filename := range s.bi.Sources {
		if strings.HasPrefix(filename, input) {
			suggests = append(suggests, prompt.Suggest{Text: filename})
		} else if full := path.Join(curWd, input); strings.HasPrefix(filename, full) {
			inputPrefix := strings.TrimPrefix(input, "./")
			suggests = append(suggests, prompt.Suggest{Text: inputPrefix + filename[len(full):]})
		}
		if len(suggests) >= maxSuggestions {
			break
		}
	}
	return suggests
}

// repl reads commands until quit. A terminal gets the go-prompt line editor
// with completion; anything else is read line by line.
func (s *session) repl(in io.Reader) {
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		p := prompt.New(s.executor, s.complete,
			prompt.OptionPrefix(s.cfg.Prompt),
			prompt.OptionTitle("deet"),
			prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return s.quit }))
		p.Run()
		s.kill()
		return
	}

	scanner := bufio.NewScanner(in)
	for !s.quit {
		fmt.Fprint(s.stdout, s.cfg.Prompt)
		if !scanner.Scan() {
			break
		}
		s.executor(scanner.Text())
	}
	s.kill()
}
