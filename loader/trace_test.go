package loader_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/loader"
)

const bootTrace = `
version: 1.0.0
profile: mm9691lp
ops:
  - {op: load, addr: 0x38010010, expect: 0x4E969101}
  - {op: store, addr: 0x38000008, value: 0x400}
  - {op: store, addr: 0x08000000, value: 0x7F, kind: u8}
  - {op: run, ticks: 8000}
  - {op: expect, irq: true}
`

var _ = Describe("Trace", func() {
	It("should parse operations with hex addresses", func() {
		t, err := loader.ParseTrace([]byte(bootTrace))
		Expect(err).NotTo(HaveOccurred())

		Expect(t.Profile).To(Equal("mm9691lp"))
		Expect(t.Ops).To(HaveLen(5))

		load := t.Ops[0]
		Expect(load.Op).To(Equal(loader.OpLoad))
		Expect(load.Addr).To(Equal(uint32(0x38010010)))
		Expect(*load.Expect).To(Equal(uint32(0x4E969101)))

		kind, err := load.AccessKind()
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(bus.Uint32))

		kind, err = t.Ops[2].AccessKind()
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(bus.Uint8))

		Expect(t.Ops[3].Ticks).To(Equal(uint64(8000)))
		Expect(*t.Ops[4].IRQ).To(BeTrue())
		Expect(t.Ops[4].FIQ).To(BeNil())
	})

	It("should reject unknown operations", func() {
		_, err := loader.ParseTrace([]byte("version: 1.0.0\nops:\n  - {op: jump}\n"))
		Expect(err).To(MatchError(loader.ErrBadTrace))
		Expect(err.Error()).To(ContainSubstring("op 0"))
	})

	It("should reject unknown keys", func() {
		_, err := loader.ParseTrace([]byte("version: 1.0.0\nops:\n  - {op: load, adress: 4}\n"))
		Expect(err).To(MatchError(loader.ErrBadTrace))
	})

	It("should reject unknown access kinds", func() {
		_, err := loader.ParseTrace([]byte("version: 1.0.0\nops:\n  - {op: load, addr: 4, kind: u64}\n"))
		Expect(err).To(MatchError(loader.ErrBadTrace))
	})

	It("should require a line in expect", func() {
		_, err := loader.ParseTrace([]byte("version: 1.0.0\nops:\n  - {op: expect}\n"))
		Expect(err).To(MatchError(loader.ErrBadTrace))
	})

	It("should gate the format version", func() {
		_, err := loader.ParseTrace([]byte("version: 2.0.0\nops: []\n"))
		Expect(err).To(MatchError(ContainSubstring("not supported")))

		_, err = loader.ParseTrace([]byte("ops: []\n"))
		Expect(err).To(MatchError(loader.ErrBadTrace))

		_, err = loader.ParseTrace(nil)
		Expect(err).To(MatchError(ContainSubstring("empty trace")))
	})

	It("should load a trace file written by Encode", func() {
		want, err := loader.ParseTrace([]byte(bootTrace))
		Expect(err).NotTo(HaveOccurred())

		var buf bytes.Buffer
		Expect(want.Encode(&buf)).To(Succeed())

		path := filepath.Join(GinkgoT().TempDir(), "boot.yaml")
		Expect(os.WriteFile(path, buf.Bytes(), 0644)).To(Succeed())

		got, err := loader.LoadTrace(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cmp.Diff(want, got)).To(BeEmpty())
	})

	It("should report missing files", func() {
		_, err := loader.LoadTrace("/nonexistent/trace.yaml")
		Expect(err).To(MatchError(ContainSubstring("failed to read trace file")))
	})
})
