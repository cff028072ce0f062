// Package config wires process configuration for gvisiond: command-line
// flags for ports and tuning constants following
// Valkyrie/cmd/valkyrie/main.go's flag block, plus environment-variable
// overrides for deployment-specific identity values following
// internal/platform/db/config.go's os.Getenv + dev-mode-default pattern.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/discovery"
	"github.com/asgard/gvisiond/internal/gvsp"
)

// Config is the fully-resolved process configuration, assembled from flags
// and environment overrides by Load. The GVCP port is not configurable: it
// is fixed by the protocol (spec §3, internal/gvcp.Port).
type Config struct {
	GVSPPort    int
	MetricsAddr string

	SensorWidth  int
	SensorHeight int

	SettingsPath   string
	FeatureXMLPath string

	Link     bootstrap.LinkInfo
	Identity bootstrap.DeviceIdentity

	DiscoveryEnabled    bool
	DiscoveryIntervalMs int

	PacketSizeBytes uint32
	PacketDelayUs   uint32
	FrameRateFps    uint32
}

// isDevelopmentMode mirrors internal/platform/db/config.go: GVISIOND_ENV
// set to "development" relaxes identity requirements to hardcoded
// lab-bench defaults instead of erroring.
func isDevelopmentMode() bool {
	return os.Getenv("GVISIOND_ENV") == "development"
}

// Load parses flags from args and layers environment-variable overrides on
// top, following internal/platform/db/config.go's getEnv-with-default
// pattern for everything that isn't a process flag.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gvisiond", flag.ContinueOnError)

	gvspPort := fs.Int("gvsp-port", gvsp.DefaultPort, "GVSP streaming service default UDP port")
	metricsAddr := fs.String("metrics-addr", ":9100", "address for the /metrics and /healthz HTTP endpoints")

	width := fs.Int("sensor-width", 640, "mock sensor width in pixels")
	height := fs.Int("sensor-height", 480, "mock sensor height in pixels")

	settingsPath := fs.String("settings-path", "gvisiond-settings.json", "path to the persisted sensor-settings file")
	xmlPath := fs.String("feature-xml", "", "path to the GenICam feature XML document (empty: no XML region served)")

	discoveryEnabled := fs.Bool("discovery", false, "enable periodic GVCP discovery broadcasts (spec default: disabled)")
	discoveryIntervalMs := fs.Int("discovery-interval-ms", discovery.DefaultIntervalMs, "discovery broadcast interval in milliseconds")

	packetSize := fs.Uint("packet-size", gvsp.DefaultPacketSize, "GVSP data packet payload size in bytes")
	packetDelayUs := fs.Uint("packet-delay-us", gvsp.DefaultPacketDelay, "GVSP inter-packet pacing delay in microseconds")
	frameRateFps := fs.Uint("frame-rate-fps", gvsp.DefaultFrameRateFps, "GVSP acquisition frame rate in frames per second")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	link, err := resolveLink()
	if err != nil {
		return nil, err
	}
	identity := resolveIdentity(*xmlPath)

	return &Config{
		GVSPPort:    *gvspPort,
		MetricsAddr: *metricsAddr,

		SensorWidth:  *width,
		SensorHeight: *height,

		SettingsPath:   *settingsPath,
		FeatureXMLPath: *xmlPath,

		Link:     link,
		Identity: identity,

		DiscoveryEnabled:    *discoveryEnabled,
		DiscoveryIntervalMs: *discoveryIntervalMs,

		PacketSizeBytes: uint32(*packetSize),
		PacketDelayUs:   uint32(*packetDelayUs),
		FrameRateFps:    uint32(*frameRateFps),
	}, nil
}

// resolveLink builds the bootstrap link-info cell from GVISIOND_MAC/
// GVISIOND_IP/GVISIOND_NETMASK/GVISIOND_GATEWAY environment variables, in
// development mode falling back to a fixed lab-bench identity rather than
// erroring, matching internal/platform/db/config.go's isDev branch.
func resolveLink() (bootstrap.LinkInfo, error) {
	macStr := getEnv("GVISIOND_MAC", "")
	ipStr := getEnv("GVISIOND_IP", "")

	if macStr == "" || ipStr == "" {
		if !isDevelopmentMode() {
			return bootstrap.LinkInfo{}, fmt.Errorf("config: GVISIOND_MAC and GVISIOND_IP must be set (set GVISIOND_ENV=development to use lab-bench defaults)")
		}
		fmt.Println("[CONFIG] WARNING: using default lab-bench link identity for development")
		return bootstrap.LinkInfo{
			MAC:        [6]byte{0x02, 0x42, 0xAC, 0x11, 0x00, 0x02},
			IPv4:       [4]byte{192, 168, 1, 50},
			SubnetMask: [4]byte{255, 255, 255, 0},
			Gateway:    [4]byte{192, 168, 1, 1},
			LinkSpeed:  1000,
		}, nil
	}

	mac, err := parseMAC(macStr)
	if err != nil {
		return bootstrap.LinkInfo{}, fmt.Errorf("config: GVISIOND_MAC: %w", err)
	}
	ip, err := parseIPv4(ipStr)
	if err != nil {
		return bootstrap.LinkInfo{}, fmt.Errorf("config: GVISIOND_IP: %w", err)
	}
	mask, err := parseIPv4(getEnv("GVISIOND_NETMASK", "255.255.255.0"))
	if err != nil {
		return bootstrap.LinkInfo{}, fmt.Errorf("config: GVISIOND_NETMASK: %w", err)
	}
	gw, err := parseIPv4(getEnv("GVISIOND_GATEWAY", "0.0.0.0"))
	if err != nil {
		return bootstrap.LinkInfo{}, fmt.Errorf("config: GVISIOND_GATEWAY: %w", err)
	}

	return bootstrap.LinkInfo{
		MAC:        mac,
		IPv4:       ip,
		SubnetMask: mask,
		Gateway:    gw,
		LinkSpeed:  1000,
	}, nil
}

// resolveIdentity builds the device-identity cell from GVISIOND_MANUFACTURER/
// GVISIOND_MODEL/GVISIOND_VERSION/GVISIOND_SERIAL, defaulting every field.
func resolveIdentity(xmlURL string) bootstrap.DeviceIdentity {
	return bootstrap.DeviceIdentity{
		Manufacturer: getEnv("GVISIOND_MANUFACTURER", "Asgard"),
		Model:        getEnv("GVISIOND_MODEL", "gvisiond"),
		Version:      getEnv("GVISIOND_VERSION", "1.0"),
		Serial:       getEnv("GVISIOND_SERIAL", "000000"),
		XMLURL:       xmlURL,
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseMAC(s string) ([6]byte, error) {
	var out [6]byte
	hwAddr, err := net.ParseMAC(s)
	if err != nil {
		return out, err
	}
	if len(hwAddr) != 6 {
		return out, fmt.Errorf("expected 6-byte MAC, got %d bytes (%s)", len(hwAddr), hex.EncodeToString(hwAddr))
	}
	copy(out[:], hwAddr)
	return out, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("%q is not an IPv4 address", s)
	}
	copy(out[:], v4)
	return out, nil
}
