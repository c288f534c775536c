// Package bininfo answers address to function and address to source line
// questions for an ELF executable from its DWARF sections.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainhelen/deet/log"
)

const dwarfGoLanguage = 22 // DW_LANG_Go (from DWARF v5, section 7.12, page 231)

const cacheSize = 1024

var ErrNotFoundSourceLine = errors.New("cant't find this source line")

type NotFoundFuncError struct {
	Name string
	PC   uint64
}

func (e *NotFoundFuncError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("can't find function %s", e.Name)
	}
	return fmt.Sprintf("can't find function by pc:%#x", e.PC)
}

// Line is a source position.
type Line struct {
	File string
	Line int
}

func (l Line) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

type Function struct {
	Name       string
	Entry, End uint64
}

type lineRow struct {
	addr        uint64
	file        string
	line        int
	prologueEnd bool
	endSequence bool
}

type compileUnit struct {
	name      string
	isgo      bool
	optimized bool
	producer  string
}

type BinaryInfo struct {
	// Path on disk of the binary being debugged.
	Path string
	// Functions is every DW_TAG_subprogram with code, sorted by entry point.
	Functions []Function
	// Sources is every file named in debug_line, sorted.
	Sources []string
	// PIE is true for ET_DYN executables. Their addresses are link-time
	// addresses and do not match the running image.
	PIE bool

	compileUnits []*compileUnit
	lookupFunc   map[string]*Function
	lines        []lineRow
	bySource     map[string]map[int][]*lineRow
	symbols      *trie.Trie

	lineCache *lru.Cache
	funcCache *lru.Cache

	logger *zap.Logger
}

// Load reads the debug information of the executable at path.
func Load(path string) (*BinaryInfo, error) {
	elffile, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer elffile.Close()

	// please note that DWARF() returns uncompressed data if compressed
	dwarfData, err := elffile.DWARF()
	if err != nil {
		return nil, errors.Wrapf(err, "read dwarf of %s", path)
	}

	bi := &BinaryInfo{
		Path:       path,
		PIE:        elffile.Type == elf.ET_DYN,
		lookupFunc: make(map[string]*Function),
		bySource:   make(map[string]map[int][]*lineRow),
		symbols:    trie.New(),
		logger:     log.Named("bininfo"),
	}
	if bi.lineCache, err = lru.New(cacheSize); err != nil {
		return nil, err
	}
	if bi.funcCache, err = lru.New(cacheSize); err != nil {
		return nil, err
	}
	if err = bi.analyze(dwarfData); err != nil {
		return nil, err
	}
	bi.logger.Debug("Load",
		zap.String("path", path),
		zap.Int("functions", len(bi.Functions)),
		zap.Int("lines", len(bi.lines)),
		zap.Bool("go", bi.IsGo()),
		zap.Bool("pie", bi.PIE))
	return bi, nil
}

func (bi *BinaryInfo) analyze(dwarfData *dwarf.Data) error {
	reader := dwarfData.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			cu := &compileUnit{}
			cu.name, _ = entry.Val(dwarf.AttrName).(string)
			if lang, _ := entry.Val(dwarf.AttrLanguage).(int64); lang == dwarfGoLanguage {
				cu.isgo = true
			}
			cu.producer, _ = entry.Val(dwarf.AttrProducer).(string)
			if semicolon := strings.Index(cu.producer, ";"); cu.isgo && semicolon >= 0 {
				flags := cu.producer[semicolon:]
				cu.optimized = !strings.Contains(flags, "-N") || !strings.Contains(flags, "-l")
				cu.producer = cu.producer[:semicolon]
			}
			bi.compileUnits = append(bi.compileUnits, cu)

			if err := bi.readLines(dwarfData, entry); err != nil {
				return errors.Wrapf(err, "read line table of %s", cu.name)
			}
		case dwarf.TagSubprogram:
			bi.addFunction(entry)
			reader.SkipChildren()
		}
	}

	sort.Slice(bi.Functions, func(i, j int) bool { return bi.Functions[i].Entry < bi.Functions[j].Entry })
	for i := range bi.Functions {
		fn := &bi.Functions[i]
		if _, ok := bi.lookupFunc[fn.Name]; !ok {
			bi.lookupFunc[fn.Name] = fn
			bi.symbols.Add(fn.Name, fn)
		}
	}
	sort.SliceStable(bi.lines, func(i, j int) bool { return bi.lines[i].addr < bi.lines[j].addr })
	for i := range bi.lines {
		row := &bi.lines[i]
		if row.endSequence {
			continue
		}
		if bi.bySource[row.file] == nil {
			bi.bySource[row.file] = make(map[int][]*lineRow)
		}
		bi.bySource[row.file][row.line] = append(bi.bySource[row.file][row.line], row)
	}
	for file := range bi.bySource {
		bi.Sources = append(bi.Sources, file)
	}
	sort.Strings(bi.Sources)
	return nil
}

func (bi *BinaryInfo) readLines(dwarfData *dwarf.Data, cu *dwarf.Entry) error {
	lineReader, err := dwarfData.LineReader(cu)
	if err != nil {
		return err
	}
	if lineReader == nil {
		return nil
	}
	var lineEntry dwarf.LineEntry
	for {
		if err := lineReader.Next(&lineEntry); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		row := lineRow{
			addr:        lineEntry.Address,
			line:        lineEntry.Line,
			prologueEnd: lineEntry.PrologueEnd,
			endSequence: lineEntry.EndSequence,
		}
		if lineEntry.File != nil {
			row.file = lineEntry.File.Name
		}
		bi.lines = append(bi.lines, row)
	}
}

func (bi *BinaryInfo) addFunction(entry *dwarf.Entry) {
	name, _ := entry.Val(dwarf.AttrName).(string)
	lowpc, ok := entry.Val(dwarf.AttrLowpc).(uint64)
	if name == "" || !ok {
		return
	}
	fn := Function{Name: name, Entry: lowpc}
	if field := entry.AttrField(dwarf.AttrHighpc); field != nil {
		switch val := field.Val.(type) {
		case uint64:
			fn.End = val
		case int64:
			// DWARF 4 encodes high_pc as an offset from low_pc
			fn.End = lowpc + uint64(val)
		}
	}
	if fn.End <= fn.Entry {
		bi.logger.Debug("addFunction: no code range", zap.String("name", name))
		return
	}
	bi.Functions = append(bi.Functions, fn)
}

// IsGo reports whether any compile unit was produced by the Go toolchain.
func (bi *BinaryInfo) IsGo() bool {
	for _, cu := range bi.compileUnits {
		if cu.isgo {
			return true
		}
	}
	return false
}

// Optimized reports whether a Go compile unit was built without -N -l.
// Frame pointer walks and breakpoints by line are unreliable then. The
// runtime packages are left out, the toolchain always optimizes them.
func (bi *BinaryInfo) Optimized() bool {
	for _, cu := range bi.compileUnits {
		if cu.isgo && cu.optimized && !runtimePackage(cu.name) {
			return true
		}
	}
	return false
}

func runtimePackage(name string) bool {
	return name == "runtime" || strings.HasPrefix(name, "runtime/") || strings.HasPrefix(name, "internal/")
}

// EntryFunction is the function a backtrace stops at.
func (bi *BinaryInfo) EntryFunction() string {
	if bi.IsGo() {
		return "main.main"
	}
	return "main"
}

func (bi *BinaryInfo) findFunction(pc uint64) *Function {
	i := sort.Search(len(bi.Functions), func(i int) bool { return bi.Functions[i].End > pc })
	if i < len(bi.Functions) && bi.Functions[i].Entry <= pc {
		return &bi.Functions[i]
	}
	return nil
}

// ResolveFunction returns the name of the function containing pc.
func (bi *BinaryInfo) ResolveFunction(pc uint64) (string, bool) {
	if v, ok := bi.funcCache.Get(pc); ok {
		name := v.(string)
		return name, name != ""
	}
	name := ""
	if fn := bi.findFunction(pc); fn != nil {
		name = fn.Name
	}
	bi.funcCache.Add(pc, name)
	return name, name != ""
}

// ResolveLine returns the source line whose code contains pc.
func (bi *BinaryInfo) ResolveLine(pc uint64) (Line, bool) {
	if v, ok := bi.lineCache.Get(pc); ok {
		l := v.(Line)
		return l, l.File != ""
	}
	var l Line
	i := sort.Search(len(bi.lines), func(i int) bool { return bi.lines[i].addr > pc })
	if i > 0 {
		if row := bi.lines[i-1]; !row.endSequence && row.file != "" {
			l = Line{File: row.file, Line: row.line}
		}
	}
	bi.lineCache.Add(pc, l)
	return l, l.File != ""
}

// LookupFunction finds a function by its exact name.
func (bi *BinaryInfo) LookupFunction(name string) (Function, error) {
	fn, ok := bi.lookupFunc[name]
	if !ok {
		return Function{}, &NotFoundFuncError{Name: name}
	}
	return *fn, nil
}

// FunctionEntry returns the address of the first instruction of name.
func (bi *BinaryInfo) FunctionEntry(name string) (uint64, error) {
	fn, err := bi.LookupFunction(name)
	if err != nil {
		return 0, err
	}
	return fn.Entry, nil
}

// FunctionsWithPrefix lists function names starting with prefix.
func (bi *BinaryInfo) FunctionsWithPrefix(prefix string) []string {
	names := bi.symbols.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}

// FindSource matches filename against the known sources, either exactly or
// as a path suffix.
func (bi *BinaryInfo) FindSource(filename string) (string, bool) {
	if _, ok := bi.bySource[filename]; ok {
		return filename, true
	}
	clean := filepath.Clean(filename)
	for _, src := range bi.Sources {
		if strings.HasSuffix(src, "/"+clean) {
			return src, true
		}
	}
	return "", false
}

// FileLineToPC returns the address a breakpoint on filename:lineno should
// use: the row marked prologue_end if there is one, else the lowest
// address generated for that line.
func (bi *BinaryInfo) FileLineToPC(filename string, lineno int) (uint64, error) {
	src, ok := bi.FindSource(filename)
	if !ok {
		return 0, ErrNotFoundSourceLine
	}
	rows := bi.bySource[src][lineno]
	if len(rows) == 0 {
		return 0, ErrNotFoundSourceLine
	}
	for _, row := range rows {
		if row.prologueEnd {
			return row.addr, nil
		}
	}
	addr := rows[0].addr
	for _, row := range rows[1:] {
		if row.addr < addr {
			addr = row.addr
		}
	}
	return addr, nil
}
