// Package loader reads firmware images and access traces for the chipset.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/go-logr/logr"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment from an ELF image.
type Segment struct {
	// VirtAddr is the address the code was linked to run at.
	VirtAddr uint32
	// PhysAddr is the load address. Firmware linked to run from RAM at
	// zero keeps its flash copy here.
	PhysAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a firmware image ready for download.
type Program struct {
	// EntryPoint is the address where execution should begin.
	EntryPoint uint32
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// ImageWriter receives downloaded bytes, e.g. *chipset.Chip.
type ImageWriter interface {
	WriteImage(addr uint32, data []byte) error
}

// Load parses a 32-bit little-endian ARM ELF image.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}

	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("not an ARM ELF file (machine type: %v)", f.Machine)
	}

	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}

	prog := &Program{EntryPoint: uint32(f.Entry)}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Paddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Paddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			PhysAddr: uint32(phdr.Paddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
			Flags:    flags,
		})
	}

	return prog, nil
}

// Size returns the number of bytes the segments occupy in memory.
func (p *Program) Size() uint64 {
	var n uint64
	for _, s := range p.Segments {
		n += uint64(s.MemSize)
	}

	return n
}

// Download writes every segment to its load address and zero-fills the
// BSS tail.
func (p *Program) Download(w ImageWriter, log logr.Logger) error {
	for _, seg := range p.Segments {
		if err := w.WriteImage(seg.PhysAddr, seg.Data); err != nil {
			return err
		}

		if bss := int(seg.MemSize) - len(seg.Data); bss > 0 {
			addr := seg.PhysAddr + uint32(len(seg.Data))
			if err := w.WriteImage(addr, make([]byte, bss)); err != nil {
				return err
			}
		}

		log.V(1).Info("segment downloaded",
			"address", fmt.Sprintf("0x%08X", seg.PhysAddr),
			"file_size", len(seg.Data),
			"mem_size", seg.MemSize)
	}

	log.Info("image loaded", "entry", fmt.Sprintf("0x%08X", p.EntryPoint), "segments", len(p.Segments))

	return nil
}
