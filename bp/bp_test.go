package bp

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/chainhelen/deet/internal/memtest"
	"github.com/chainhelen/deet/mem"
)

func newMem() *memtest.Fake {
	f := memtest.NewFake(0x401000, 64)
	f.Words[0x401000] = 0x4855e58948ec8348
	f.Words[0x401008] = 0x1122334455667788
	return f
}

func TestInstallDisarmRoundTrip(t *testing.T) {
	g := NewGomegaWithT(t)
	m := newMem()
	before := m.Bytes()
	s := NewStore(m)

	for _, addr := range []uint64{0x401000, 0x401003, 0x40100f} {
		info, err := s.Install(addr)
		g.Expect(err).Should(BeNil())
		g.Expect(info.Armed).Should(BeTrue())
		b, _ := mem.ReadByte(m, addr)
		g.Expect(b).Should(Equal(TrapInstruction))
	}
	for _, addr := range []uint64{0x401000, 0x401003, 0x40100f} {
		g.Expect(s.Disarm(addr)).Should(Succeed())
		g.Expect(s.IsArmed(addr)).Should(BeFalse())
	}
	g.Expect(m.Bytes()).Should(Equal(before))
	g.Expect(s.Len()).Should(Equal(3))
}

func TestRearmKeepsOriginal(t *testing.T) {
	g := NewGomegaWithT(t)
	m := newMem()
	s := NewStore(m)

	info, err := s.Install(0x401001)
	g.Expect(err).Should(BeNil())
	g.Expect(info.Original).Should(Equal(byte(0x83)))

	g.Expect(s.Disarm(0x401001)).Should(Succeed())
	b, _ := mem.ReadByte(m, 0x401001)
	g.Expect(b).Should(Equal(byte(0x83)))

	g.Expect(s.Rearm(0x401001)).Should(Succeed())
	b, _ = mem.ReadByte(m, 0x401001)
	g.Expect(b).Should(Equal(TrapInstruction))

	orig, ok := s.Lookup(0x401001)
	g.Expect(ok).Should(BeTrue())
	g.Expect(orig).Should(Equal(byte(0x83)))
}

func TestInstallDuplicate(t *testing.T) {
	g := NewGomegaWithT(t)
	m := newMem()
	s := NewStore(m)

	_, err := s.Install(0x401008)
	g.Expect(err).Should(BeNil())
	pokes := m.Pokes

	_, err = s.Install(0x401008)
	g.Expect(err).Should(Equal(ErrBreakpointExists))
	g.Expect(m.Pokes).Should(Equal(pokes))

	orig, _ := s.Lookup(0x401008)
	g.Expect(orig).Should(Equal(byte(0x88)))
}

func TestInstallInvalidAddress(t *testing.T) {
	g := NewGomegaWithT(t)
	s := NewStore(newMem())

	_, err := s.Install(0x10)
	var iae *mem.InvalidAddressError
	g.Expect(errors.As(err, &iae)).Should(BeTrue())
	g.Expect(iae.Addr).Should(Equal(uint64(0x10)))

	_, ok := s.Lookup(0x10)
	g.Expect(ok).Should(BeFalse())
	g.Expect(s.Len()).Should(Equal(0))
}

func TestUnknownAddress(t *testing.T) {
	g := NewGomegaWithT(t)
	s := NewStore(newMem())

	g.Expect(s.Disarm(0x401000)).Should(Equal(ErrNoBreakpoint))
	g.Expect(s.Rearm(0x401000)).Should(Equal(ErrNoBreakpoint))
	g.Expect(s.Remove(0x401000)).Should(Equal(ErrNoBreakpoint))
}

func TestRemove(t *testing.T) {
	g := NewGomegaWithT(t)
	m := newMem()
	before := m.Bytes()
	s := NewStore(m)

	_, err := s.Install(0x401004)
	g.Expect(err).Should(BeNil())
	g.Expect(s.Remove(0x401004)).Should(Succeed())

	g.Expect(s.Len()).Should(Equal(0))
	g.Expect(m.Bytes()).Should(Equal(before))

	// the address can be installed again afterwards
	_, err = s.Install(0x401004)
	g.Expect(err).Should(BeNil())
}

func TestListAndMask(t *testing.T) {
	g := NewGomegaWithT(t)
	m := newMem()
	s := NewStore(m)

	for _, addr := range []uint64{0x401009, 0x401000, 0x401002} {
		_, err := s.Install(addr)
		g.Expect(err).Should(BeNil())
	}
	g.Expect(s.Disarm(0x401002)).Should(Succeed())

	list := s.List()
	g.Expect(list).Should(HaveLen(3))
	g.Expect(list[0].Addr).Should(Equal(uint64(0x401000)))
	g.Expect(list[1].Addr).Should(Equal(uint64(0x401002)))
	g.Expect(list[1].Armed).Should(BeFalse())
	g.Expect(list[2].Addr).Should(Equal(uint64(0x401009)))

	buf, err := mem.ReadBytes(m, 0x401000, 16)
	g.Expect(err).Should(BeNil())
	g.Expect(buf[0]).Should(Equal(TrapInstruction))
	s.Mask(0x401000, buf)

	want := newMem().Bytes()[:16]
	g.Expect(buf).Should(Equal(want))
}
