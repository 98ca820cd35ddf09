package latency

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sarchlab/akita/v4/sim"
	"go.yaml.in/yaml/v3"
)

// FormatVersion is the profile file format written by SaveConfig.
const FormatVersion = "1.0.0"

// supportedVersions is the range of profile formats LoadConfig accepts.
const supportedVersions = ">=1.0.0, <2.0.0"

// Chipset profile names.
const (
	ProfileMM9691LP = "mm9691lp"
	ProfilePXA27x   = "pxa27x"
)

// Eviction policy names.
const (
	PolicyPseudoLRU = "pseudo-lru"
	PolicyTrueLRU   = "true-lru"
)

// Region names used by the chipset profiles.
const (
	RegionRAM         = "ram"
	RegionFlash       = "flash"
	RegionPeripherals = "peripherals"
)

// RegionTiming describes one memory region of a profile.
type RegionTiming struct {
	// Name identifies the region, e.g. "ram".
	Name string `json:"name" yaml:"name"`

	// Base is the physical base address.
	Base uint32 `json:"base" yaml:"base"`

	// Size is the region length in bytes.
	Size uint64 `json:"size" yaml:"size"`

	// Width is the data path width in bits. A 32-bit access to a 16-bit
	// region costs two beats. Default: 32.
	Width int `json:"width" yaml:"width"`

	// ReadLatency is the cost of one read beat in core ticks.
	ReadLatency uint64 `json:"read_latency" yaml:"read_latency"`

	// WriteLatency is the cost of one write beat in core ticks.
	WriteLatency uint64 `json:"write_latency" yaml:"write_latency"`
}

// CacheConfig holds the cache geometry of a profile. Ways and line size are
// fixed by the hardware; only the set count and the eviction policy vary.
type CacheConfig struct {
	// Present is false on profiles without the cache controller.
	Present bool `json:"present" yaml:"present"`

	// SetsLog2 is log2 of the number of sets. 8 gives 16KB, 7 gives 8KB.
	SetsLog2 int `json:"sets_log2" yaml:"sets_log2"`

	// Policy is PolicyPseudoLRU or PolicyTrueLRU.
	Policy string `json:"policy" yaml:"policy"`
}

// Config holds the timing parameters of a chipset profile.
type Config struct {
	// Version is the semantic version of the file format.
	Version string `json:"version" yaml:"version"`

	// Profile selects the chipset assembly.
	Profile string `json:"profile" yaml:"profile"`

	// CoreFrequency is the CPU clock. Default: 26 MHz on MM9691LP.
	CoreFrequency sim.Freq `json:"core_frequency_hz" yaml:"core_frequency_hz"`

	// RTCFrequency is the real-time clock input. Default: 32.768 kHz.
	RTCFrequency sim.Freq `json:"rtc_frequency_hz" yaml:"rtc_frequency_hz"`

	// ClockEnableDelay is the number of core ticks between a write to the
	// clock-enable request register and the gate taking effect.
	ClockEnableDelay uint64 `json:"clock_enable_delay" yaml:"clock_enable_delay"`

	// Regions lists the memory regions and their access costs.
	Regions []RegionTiming `json:"regions" yaml:"regions"`

	// Cache describes the cache controller.
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// DefaultMM9691LPConfig returns the MM9691LP profile: 768KB of zero wait
// state RAM at 0x08000000, 16-bit flash at 0x10000000 and a 16KB cache.
func DefaultMM9691LPConfig() *Config {
	return &Config{
		Version:          FormatVersion,
		Profile:          ProfileMM9691LP,
		CoreFrequency:    26 * sim.MHz,
		RTCFrequency:     32768 * sim.Hz,
		ClockEnableDelay: 256,
		Regions: []RegionTiming{
			{Name: RegionRAM, Base: 0x08000000, Size: 768 * 1024, Width: 32, ReadLatency: 1, WriteLatency: 1},
			{Name: RegionFlash, Base: 0x10000000, Size: 4 * 1024 * 1024, Width: 16, ReadLatency: 3, WriteLatency: 3},
			{Name: RegionPeripherals, Base: 0x30000000, Size: 0x10000000, Width: 32, ReadLatency: 1, WriteLatency: 2},
		},
		Cache: CacheConfig{
			Present:  true,
			SetsLog2: 8,
			Policy:   PolicyPseudoLRU,
		},
	}
}

// DefaultPXA27xConfig returns the PXA27x profile: 256KB of internal SRAM at
// 0x5C000000 behind the same cache controller and flash on static chip
// select 1. The SRAM is linked at zero once the chip is assembled.
func DefaultPXA27xConfig() *Config {
	return &Config{
		Version:          FormatVersion,
		Profile:          ProfilePXA27x,
		CoreFrequency:    13 * sim.MHz,
		RTCFrequency:     32768 * sim.Hz,
		ClockEnableDelay: 0,
		Regions: []RegionTiming{
			{Name: RegionRAM, Base: 0x5C000000, Size: 256 * 1024, Width: 32, ReadLatency: 1, WriteLatency: 1},
			{Name: RegionFlash, Base: 0x04000000, Size: 32 * 1024 * 1024, Width: 16, ReadLatency: 4, WriteLatency: 4},
			{Name: RegionPeripherals, Base: 0x40000000, Size: 0x10000000, Width: 32, ReadLatency: 1, WriteLatency: 2},
		},
		Cache: CacheConfig{
			Present:  true,
			SetsLog2: 8,
			Policy:   PolicyTrueLRU,
		},
	}
}

// DefaultConfig returns the default configuration of the named profile.
func DefaultConfig(profile string) (*Config, error) {
	switch profile {
	case ProfileMM9691LP, "":
		return DefaultMM9691LPConfig(), nil
	case ProfilePXA27x:
		return DefaultPXA27xConfig(), nil
	default:
		return nil, fmt.Errorf("unknown chipset profile %q", profile)
	}
}

// LoadConfig loads a Config from a JSON or YAML file, chosen by extension.
// Fields the file omits keep the defaults of the profile it names.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	unmarshal := json.Unmarshal
	if isYAML(path) {
		unmarshal = yaml.Unmarshal
	}

	var header struct {
		Profile string `json:"profile" yaml:"profile"`
	}
	if err := unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	config, err := DefaultConfig(header.Profile)
	if err != nil {
		return nil, err
	}

	// Regions replace the defaults as a whole when present.
	config.Regions = nil
	if err := unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	if len(config.Regions) == 0 {
		defaults, _ := DefaultConfig(config.Profile)
		config.Regions = defaults.Regions
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing config %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig writes a Config as JSON, or YAML if path ends in .yaml or .yml.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)

	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks the format version, frequencies, regions and cache
// geometry.
func (c *Config) Validate() error {
	if err := CheckVersion(c.Version); err != nil {
		return err
	}
	if c.CoreFrequency <= 0 {
		return fmt.Errorf("core_frequency_hz must be > 0")
	}
	if c.RTCFrequency <= 0 {
		return fmt.Errorf("rtc_frequency_hz must be > 0")
	}

	seen := make(map[string]bool)
	for _, r := range c.Regions {
		if r.Name == "" {
			return fmt.Errorf("region at 0x%08X has no name", r.Base)
		}
		if seen[r.Name] {
			return fmt.Errorf("region %q defined twice", r.Name)
		}
		seen[r.Name] = true

		if r.Size == 0 || r.Size%4 != 0 {
			return fmt.Errorf("region %q size must be a non-zero multiple of 4", r.Name)
		}
		if uint64(r.Base)+r.Size > 1<<32 {
			return fmt.Errorf("region %q extends past the 32-bit address space", r.Name)
		}
		switch r.Width {
		case 0, 8, 16, 32:
		default:
			return fmt.Errorf("region %q width must be 8, 16 or 32", r.Name)
		}
		if r.ReadLatency == 0 || r.WriteLatency == 0 {
			return fmt.Errorf("region %q latencies must be > 0", r.Name)
		}
	}

	for _, name := range []string{RegionRAM, RegionPeripherals} {
		if !seen[name] {
			return fmt.Errorf("region %q is required", name)
		}
	}

	if c.Cache.Present {
		if c.Cache.SetsLog2 < 1 || c.Cache.SetsLog2 > 12 {
			return fmt.Errorf("cache sets_log2 must be in [1, 12]")
		}
		switch c.Cache.Policy {
		case PolicyPseudoLRU, PolicyTrueLRU:
		default:
			return fmt.Errorf("unknown cache policy %q", c.Cache.Policy)
		}
	}

	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	out := *c
	out.Regions = append([]RegionTiming(nil), c.Regions...)
	return &out
}

// CheckVersion reports whether a profile format version can be loaded.
func CheckVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid format version %q: %w", version, err)
	}

	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("format version %s not supported (want %s)", v, supportedVersions)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
