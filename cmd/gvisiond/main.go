// gvisiond is the embedded GigE-Vision-compatible camera endpoint: the
// control service (GVCP, UDP 3956), the streaming service (GVSP), and the
// register map that binds them to a camera, a settings store, and the
// discovery broadcaster.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/config"
	"github.com/asgard/gvisiond/internal/discovery"
	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/gvcp"
	"github.com/asgard/gvisiond/internal/gvsp"
	"github.com/asgard/gvisiond/internal/hal"
	"github.com/asgard/gvisiond/internal/regmap"
	"github.com/asgard/gvisiond/internal/stats"
)

var (
	version = "0.1.0"
)

// frameRingCapacity is how many recent frames the streaming service keeps
// available for PACKETRESEND (spec §4.7).
const frameRingCapacity = 8

// endpoint is the process: every subsystem the register map dispatches
// against, plus the two UDP services and the metrics HTTP server.
type endpoint struct {
	cfg *config.Config

	bs       *bootstrap.Memory
	regs     *regmap.RegisterMap
	cam      *hal.MockCamera
	settings *hal.FileSettingsStore
	ring     *frame.Ring
	counters *stats.Counters
	disc     *discovery.Service

	gvspSvc *gvsp.Service
	gvcpSvc *gvcp.Service

	metricsServer *http.Server

	mu      sync.Mutex
	running bool
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	printBanner()

	ep := &endpoint{cfg: cfg}
	if err := ep.initialize(); err != nil {
		log.Fatalf("gvisiond: initialize: %v", err)
	}
	if err := ep.start(); err != nil {
		log.Fatalf("gvisiond: start: %v", err)
	}

	log.Printf("gvisiond: OPERATIONAL (gvcp :%d, gvsp :%d, metrics %s)", gvcp.Port, cfg.GVSPPort, cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("gvisiond: shutdown signal received, stopping...")
	if err := ep.shutdown(); err != nil {
		log.Printf("gvisiond: shutdown error: %v", err)
	}
	log.Println("gvisiond: shutdown complete")
}

// initialize wires every collaborator in dependency order: bootstrap
// memory, persisted sensor settings, the mock camera, the register map
// and its Install* feature groups, the frame ring and streaming service,
// discovery, and finally the control service and metrics server — mirroring Valkyrie.Initialize's numbered subsystem build-out.
func (ep *endpoint) initialize() error {
	log.Println("gvisiond: initializing...")

	ep.bs = bootstrap.New()
	ep.bs.Init(ep.cfg.Link, ep.cfg.Identity)

	uuid := discovery.DeriveUUID(ep.cfg.Link.MAC, ep.cfg.Identity.Model, ep.cfg.Identity.Version, []byte(ep.cfg.Identity.Serial))
	ep.bs.SetUUID(uuid)
	log.Printf("gvisiond:   device uuid %s", uuid)

	ep.settings = hal.NewFileSettingsStore(ep.cfg.SettingsPath)
	snap, err := ep.settings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	log.Println("gvisiond:   sensor settings loaded")

	ep.cam = hal.NewMockCamera(ep.cfg.SensorWidth, ep.cfg.SensorHeight)
	applySnapshot(ep.cam, snap)

	xmlBlob, err := loadFeatureXML(ep.cfg.FeatureXMLPath)
	if err != nil {
		return fmt.Errorf("load feature xml: %w", err)
	}
	ep.regs = regmap.New(ep.bs, xmlBlob)
	ep.regs.InstallCameraRegisters(ep.cam, snap, uint32(ep.cfg.SensorWidth), uint32(ep.cfg.SensorHeight))
	log.Println("gvisiond:   register map built")

	ep.counters = stats.New()
	ep.regs.InstallStatsRegisters(ep.counters)

	ep.ring = frame.New(frameRingCapacity)
	ep.gvspSvc = gvsp.New(ep.cam, ep.ring, ep.counters)
	if err := ep.gvspSvc.SetPacketSizeBytes(ep.cfg.PacketSizeBytes); err != nil {
		return fmt.Errorf("packet size: %w", err)
	}
	if err := ep.gvspSvc.SetPacketDelayUs(ep.cfg.PacketDelayUs); err != nil {
		return fmt.Errorf("packet delay: %w", err)
	}
	if err := ep.gvspSvc.SetFrameRateFps(ep.cfg.FrameRateFps); err != nil {
		return fmt.Errorf("frame rate: %w", err)
	}
	ep.regs.InstallStreamRegisters(ep.gvspSvc)
	log.Println("gvisiond:   streaming service built")

	ep.disc = discovery.New(ep.cfg.Link)
	ep.disc.SetEnabled(ep.cfg.DiscoveryEnabled)
	ep.disc.SetIntervalMs(ep.cfg.DiscoveryIntervalMs)
	ep.regs.InstallDiscoveryRegister(ep.disc)
	log.Println("gvisiond:   discovery configured")

	ep.gvcpSvc = gvcp.New(ep.bs, ep.regs, ep.disc, ep.gvspSvc, ep.counters, ep.cfg.GVSPPort)

	ep.metricsServer = newMetricsServer(ep.cfg.MetricsAddr)

	return nil
}

// start launches the two UDP services and the metrics HTTP server.
func (ep *endpoint) start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if err := ep.gvspSvc.Start(ep.cfg.GVSPPort); err != nil {
		return fmt.Errorf("start gvsp: %w", err)
	}
	if err := ep.gvcpSvc.Start(); err != nil {
		return fmt.Errorf("start gvcp: %w", err)
	}

	go func() {
		if err := ep.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("gvisiond: metrics server error: %v", err)
		}
	}()

	ep.running = true
	return nil
}

// shutdown stops both services, persists the live sensor snapshot, and
// closes the metrics server.
func (ep *endpoint) shutdown() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.running {
		return nil
	}
	ep.running = false

	ep.gvcpSvc.Stop()
	ep.gvspSvc.Stop()
	if err := ep.metricsServer.Close(); err != nil {
		log.Printf("gvisiond: metrics server close: %v", err)
	}

	if err := ep.settings.Save(ep.regs.CameraSnapshot()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// applySnapshot pushes a loaded settings snapshot into the camera backend
// at boot, before the register map starts mirroring further changes back
// into camera setter calls.
func applySnapshot(cam *hal.MockCamera, snap hal.Snapshot) {
	cam.SetExposureMicros(int(snap.ExposureUs))
	cam.SetGain(float64(snap.Gain))
	cam.SetBrightness(int(snap.Brightness))
	cam.SetContrast(int(snap.Contrast))
	cam.SetSaturation(int(snap.Saturation))
	cam.SetWhiteBalanceMode(hal.WhiteBalanceMode(snap.WBMode))
	cam.SetTriggerMode(hal.TriggerMode(snap.TriggerMode))
	cam.SetJPEGQuality(int(snap.JPEGQuality))
	cam.SetPixelFormat(hal.PixelFormat(snap.PixelFormat))
}

func loadFeatureXML(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func printBanner() {
	banner := `
 ___ __   __ _ ___ ___ ___  _  _ ___
/ __|\ \ / /| _ \_ _/ __| _ \| \| |   \
| (_ | \ V / |   /| |\__ \  _/| .  | |) |
\___|  \_/  |_|_\___|___/_|  |_|\_|___/
Embedded GigE-Vision-compatible camera endpoint v` + version + `
`
	fmt.Println(banner)
}
