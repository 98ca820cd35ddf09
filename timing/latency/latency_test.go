package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/timing/latency"
)

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Timing Values", func() {
		It("should describe the MM9691LP profile", func() {
			config := table.Config()
			Expect(config.Profile).To(Equal(latency.ProfileMM9691LP))
			Expect(config.CoreFrequency).To(Equal(26 * sim.MHz))
			Expect(config.ClockEnableDelay).To(Equal(uint64(256)))
			Expect(config.Cache.Policy).To(Equal(latency.PolicyPseudoLRU))
		})

		It("should place RAM at 0x08000000", func() {
			ram, ok := table.Region(latency.RegionRAM)
			Expect(ok).To(BeTrue())
			Expect(ram.Base).To(Equal(uint32(0x08000000)))
			Expect(ram.Size).To(Equal(uint64(768 * 1024)))
		})

		It("should give the flash a 16-bit data path", func() {
			Expect(table.Latency(latency.RegionFlash)).To(Equal(bus.Latency{Width: 16, Read: 3, Write: 3}))
		})

		It("should cost one tick for unknown regions", func() {
			Expect(table.Latency("nowhere")).To(Equal(bus.Latency{Width: 32, Read: 1, Write: 1}))
		})

		It("should be valid", func() {
			Expect(latency.DefaultMM9691LPConfig().Validate()).To(Succeed())
			Expect(latency.DefaultPXA27xConfig().Validate()).To(Succeed())
		})
	})

	Describe("Clock conversion", func() {
		It("should convert RTC ticks to core ticks", func() {
			Expect(table.CoreTicks(32768, table.RTCFrequency())).To(Equal(uint64(26000000)))
		})

		It("should convert core ticks to RTC ticks", func() {
			Expect(table.TicksAt(26000000, table.RTCFrequency())).To(Equal(uint64(32768)))
			Expect(table.TicksAt(100, table.RTCFrequency())).To(Equal(uint64(0)))
		})
	})

	Describe("Configuration files", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "chipsim-latency")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
		})

		It("should round-trip through JSON", func() {
			config := latency.DefaultMM9691LPConfig()
			config.Cache.Policy = latency.PolicyTrueLRU
			path := filepath.Join(dir, "profile.json")

			Expect(config.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(config))
		})

		It("should load a partial YAML profile over the defaults", func() {
			path := filepath.Join(dir, "profile.yaml")
			Expect(os.WriteFile(path, []byte(`
version: 1.2.0
profile: mm9691lp
core_frequency_hz: 30000000
cache:
  present: true
  sets_log2: 7
  policy: true-lru
`), 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.CoreFrequency).To(Equal(30 * sim.MHz))
			Expect(loaded.Cache.SetsLog2).To(Equal(7))
			Expect(loaded.Regions).To(Equal(latency.DefaultMM9691LPConfig().Regions))
		})

		It("should reject an unsupported format version", func() {
			path := filepath.Join(dir, "profile.json")
			Expect(os.WriteFile(path, []byte(`{"version": "2.0.0"}`), 0644)).To(Succeed())

			_, err := latency.LoadConfig(path)
			Expect(err).To(MatchError(ContainSubstring("not supported")))
		})

		It("should reject an unknown profile", func() {
			path := filepath.Join(dir, "profile.json")
			Expect(os.WriteFile(path, []byte(`{"version": "1.0.0", "profile": "z80"}`), 0644)).To(Succeed())

			_, err := latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Validation", func() {
		It("should reject a zero latency", func() {
			config := latency.DefaultMM9691LPConfig()
			config.Regions[0].ReadLatency = 0
			Expect(config.Validate()).NotTo(Succeed())
		})

		It("should reject an unknown cache policy", func() {
			config := latency.DefaultMM9691LPConfig()
			config.Cache.Policy = "fifo"
			Expect(config.Validate()).NotTo(Succeed())
		})

		It("should require a RAM region", func() {
			config := latency.DefaultMM9691LPConfig()
			config.Regions = config.Regions[1:]
			Expect(config.Validate()).NotTo(Succeed())
		})
	})

	Describe("Clone", func() {
		It("should not share regions", func() {
			config := latency.DefaultMM9691LPConfig()
			clone := config.Clone()
			clone.Regions[0].ReadLatency = 9

			Expect(config.Regions[0].ReadLatency).To(Equal(uint64(1)))
		})
	})
})
