package main

import (
	"fmt"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/chainhelen/deet/bininfo"
	"github.com/chainhelen/deet/config"
	"github.com/chainhelen/deet/fixture"
	"github.com/chainhelen/deet/proc"
)

func make_out_err() (*strings.Builder, *strings.Builder) {
	return &strings.Builder{}, &strings.Builder{}
}

func build_debug(t *testing.T, name string) (fixture.Fixture, *session, *strings.Builder, *strings.Builder) {
	t.Helper()
	fx := fixture.Build(t, name)
	bi, err := bininfo.Load(fx.Path)
	if err != nil {
		t.Fatal(err)
	}
	outw, errw := make_out_err()
	s := newSession(config.Defaults(), bi, nil, outw, errw)
	s.procOpts = []proc.Option{proc.WithEnv(fixture.Env...)}
	t.Cleanup(s.kill)
	return fx, s, outw, errw
}

func TestQuit(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	s.executor("q")

	g.Expect(s.quit).Should(BeTrue())
	g.Expect(outw.Len()).Should(Equal(0))
	g.Expect(errw.Len()).Should(Equal(0))
}

func TestUnsupportCmd(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, _, errw := build_debug(t, "foo")

	s.executor("frobnicate")
	g.Expect(errw.String()).Should(Equal("unsupport cmd `frobnicate`\n"))
	errw.Reset()

	s.executor("b")
	g.Expect(errw.String()).Should(Equal("unsupport cmd `b`\n"))
}

func TestNoProcess(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	for _, cmd := range []string{"c", "s", "bt", "disass", "regs"} {
		errw.Reset()
		s.executor(cmd)
		g.Expect(errw.String()).Should(Equal("there is no process running\n"), cmd)
	}
	g.Expect(outw.Len()).Should(Equal(0))
}

func TestFuncBreakPoint(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	s.executor("b main.foo")
	g.Expect(outw.String()).Should(HavePrefix("Set breakpoint 0 at 0x"))
	g.Expect(outw.String()).Should(ContainSubstring("main.foo"))
	g.Expect(errw.Len()).Should(Equal(0))
	outw.Reset()

	s.executor("b main.foo")
	g.Expect(errw.String()).Should(Equal("existed breakpoint main.foo\n"))

	s.executor("bl")
	g.Expect(outw.String()).Should(MatchRegexp(`^0 \. 0x[0-9a-f]+ main\.foo .*\(main\.foo\)\n$`))
}

func TestFileLineBreakPoint(t *testing.T) {
	g := NewGomegaWithT(t)
	fx, s, outw, errw := build_debug(t, "foo")
	line := fx.Line(t, "// foo body")

	s.executor(fmt.Sprintf("b foo.go:%d", line))
	g.Expect(outw.String()).Should(ContainSubstring(fmt.Sprintf("foo.go:%d", line)))
	g.Expect(errw.Len()).Should(Equal(0))

	s.executor("b nosuchfile.go:3")
	g.Expect(errw.String()).Should(Equal("can't find this source line nosuchfile.go:3\n"))
}

func TestBreakPointContinue(t *testing.T) {
	g := NewGomegaWithT(t)
	fx, s, outw, errw := build_debug(t, "foo")
	line := fx.Line(t, "// foo body")

	s.executor(fmt.Sprintf("b foo.go:%d", line))
	outw.Reset()

	s.executor("r")
	g.Expect(outw.String()).Should(ContainSubstring("Child stopped (signal SIGTRAP)\n"))
	g.Expect(outw.String()).Should(ContainSubstring(fmt.Sprintf("Stopped at %s:%d\n", fx.Source, line)))
	g.Expect(outw.String()).Should(ContainSubstring(fmt.Sprintf("==>%7d: \tx := n * 2 // foo body", line)))
	g.Expect(errw.String()).Should(Equal(""))
	outw.Reset()

	s.executor("c")
	g.Expect(outw.String()).Should(Equal("Child exited (status 0)\n"))
	g.Expect(errw.String()).Should(Equal(""))
}

func TestForExpressionContinue(t *testing.T) {
	g := NewGomegaWithT(t)
	fx, s, outw, errw := build_debug(t, "loop")
	line := fx.Line(t, "// loop body")

	s.executor(fmt.Sprintf("b loop.go:%d", line))
	outw.Reset()

	s.executor("r")
	for i := 0; i < 3; i++ {
		g.Expect(outw.String()).Should(ContainSubstring(fmt.Sprintf("==>%7d: \ttotal += n // loop body", line)), "pass %d", i)
		g.Expect(errw.String()).Should(Equal(""))
		outw.Reset()
		s.executor("c")
	}
	g.Expect(outw.String()).Should(Equal("Child exited (status 0)\n"))
}

func TestBacktrace(t *testing.T) {
	g := NewGomegaWithT(t)
	fx, s, outw, errw := build_debug(t, "foo")
	body := fx.Line(t, "// foo body")
	call := fx.Line(t, "// call foo")

	s.executor(fmt.Sprintf("b foo.go:%d", body))
	s.executor("r")
	outw.Reset()

	s.executor("bt")
	g.Expect(outw.String()).Should(Equal(fmt.Sprintf("main.foo (%s:%d)\nmain.main (%s:%d)\n", fx.Source, body, fx.Source, call)))
	g.Expect(errw.String()).Should(Equal(""))
}

func TestInvalidBreakPoint(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	s.executor("b *0x10")
	g.Expect(outw.String()).Should(ContainSubstring("Set breakpoint 0 at 0x10"))
	outw.Reset()

	s.executor("r")
	g.Expect(errw.String()).Should(Equal("Invalid breakpoint address 0x10\n"))
	g.Expect(outw.String()).Should(Equal("Child exited (status 0)\n"))
}

func TestDeleteBreakPoint(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "loop")

	s.executor("b main.foo")
	s.executor("r")
	g.Expect(outw.String()).Should(ContainSubstring("Child stopped (signal SIGTRAP)"))
	outw.Reset()

	s.executor("d 0")
	g.Expect(outw.String()).Should(HavePrefix("Deleted breakpoint 0 at 0x"))
	outw.Reset()

	s.executor("bl")
	g.Expect(outw.String()).Should(Equal("there is no breakpoint\n"))
	outw.Reset()

	s.executor("c")
	g.Expect(outw.String()).Should(Equal("Child exited (status 0)\n"))

	s.executor("d 7")
	g.Expect(errw.String()).Should(Equal("no breakpoint 7\n"))
}

func TestRestart(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	s.executor("b main.foo")
	s.executor("r")
	pid := s.proc.Pid()
	outw.Reset()

	s.executor("r")
	g.Expect(outw.String()).Should(HavePrefix(fmt.Sprintf("Killing running inferior (pid %d)\n", pid)))
	g.Expect(outw.String()).Should(ContainSubstring("Child stopped (signal SIGTRAP)"))
	g.Expect(s.proc.Pid()).ShouldNot(Equal(pid))
	g.Expect(errw.String()).Should(Equal(""))
}

func TestKilledBySignal(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, _ := build_debug(t, "killself")

	s.executor("r")
	g.Expect(outw.String()).Should(Equal("Child killed by signal SIGKILL\n"))
}

func TestFatalStopEndsSession(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "loop")

	s.executor("b main.foo")
	s.executor("r")
	g.Expect(s.alive()).Should(BeTrue())
	outw.Reset()

	fatal := &proc.UnexpectedStatusError{Pid: s.proc.Pid(), Status: 0xffff}
	s.report(proc.StopEvent{}, fatal)
	g.Expect(s.quit).Should(BeTrue())
	g.Expect(s.fatal).Should(Equal(fatal))
	g.Expect(s.alive()).Should(BeFalse())
	g.Expect(errw.String()).Should(Equal(fatal.Error() + "\n"))
	g.Expect(outw.Len()).Should(Equal(0))

	errw.Reset()
	s.executor("c")
	g.Expect(errw.String()).Should(Equal("there is no process running\n"))
}

func TestStepiDisassembleRegs(t *testing.T) {
	g := NewGomegaWithT(t)
	_, s, outw, errw := build_debug(t, "foo")

	s.executor("b main.foo")
	s.executor("r")
	outw.Reset()

	s.executor("disass 3")
	lines := strings.Split(strings.TrimSuffix(outw.String(), "\n"), "\n")
	g.Expect(lines).Should(HaveLen(3))
	g.Expect(lines[0]).Should(HavePrefix(".==> "))
	g.Expect(lines[1]).Should(HavePrefix("     "))
	outw.Reset()

	s.executor("s")
	g.Expect(outw.String()).Should(ContainSubstring("Child stopped (signal SIGTRAP)"))
	outw.Reset()

	s.executor("disass 1")
	g.Expect(outw.String()).Should(HavePrefix(" ==> "))
	outw.Reset()

	s.executor("regs")
	g.Expect(outw.String()).Should(MatchRegexp(`(?m)^rip +0x`))
	g.Expect(outw.String()).Should(MatchRegexp(`(?m)^rbp +0x`))
	g.Expect(errw.String()).Should(Equal(""))
}

func TestList(t *testing.T) {
	g := NewGomegaWithT(t)
	fx, s, outw, errw := build_debug(t, "foo")
	line := fx.Line(t, "// foo body")

	s.executor(fmt.Sprintf("l foo.go:%d 1", line))
	g.Expect(outw.String()).Should(Equal(fmt.Sprintf(
		"list %s:%d\n   %7d: func foo(n int) int {\n==>%7d: \tx := n * 2 // foo body\n   %7d: \treturn x + 1\n",
		fx.Source, line, line-1, line, line+1)))
	g.Expect(errw.String()).Should(Equal(""))
}

func TestExecCommand(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := fixture.Build(t, "foo")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GODEBUG", "asyncpreemptoff=1")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvEntry, "")

	outw, errw := make_out_err()
	root := newRootCommand()
	root.SetArgs([]string{"exec", "-b", fmt.Sprintf("foo.go:%d", fx.Line(t, "// foo body")), fx.Path})
	root.SetIn(strings.NewReader("r\nbt\nc\nq\n"))
	root.SetOut(outw)
	root.SetErr(errw)

	g.Expect(root.Execute()).Should(Succeed())
	g.Expect(outw.String()).Should(ContainSubstring("Set breakpoint 0 at 0x"))
	g.Expect(outw.String()).Should(ContainSubstring("Child stopped (signal SIGTRAP)"))
	g.Expect(outw.String()).Should(ContainSubstring("\nmain.main ("))
	g.Expect(outw.String()).Should(ContainSubstring("Child exited (status 0)"))
	g.Expect(errw.String()).Should(Equal(""))
}
