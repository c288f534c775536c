// Package fixture builds the target programs under _fixtures for tests.
package fixture

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Env is the environment fixtures run under. Asynchronous preemption
// would otherwise deliver SIGURG stops to the traced thread.
var Env = []string{"GODEBUG=asyncpreemptoff=1"}

type Fixture struct {
	Name   string
	Source string
	Path   string
}

// Dir returns the absolute path of _fixtures.
func Dir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filepath.Dir(file)), "_fixtures")
}

// Build compiles _fixtures/<name>.go with optimizations and inlining
// disabled into a temporary directory owned by t.
func Build(t testing.TB, name string) Fixture {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	src := filepath.Join(Dir(), name+".go")
	out := filepath.Join(t.TempDir(), name)

	args := []string{"build", "-gcflags", "all=-N -l", "-o", out, src}
	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go %s: %v\n%s", strings.Join(args, " "), err, b)
	}
	return Fixture{Name: name, Source: src, Path: out}
}

// Line returns the first line of the fixture source containing marker.
func (f Fixture) Line(t testing.TB, marker string) int {
	t.Helper()
	file, err := os.Open(f.Source)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		if strings.Contains(scanner.Text(), marker) {
			return n
		}
	}
	t.Fatalf("%s: no line contains %q", f.Source, marker)
	return 0
}
