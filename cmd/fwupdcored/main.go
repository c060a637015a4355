// Command fwupdcored is the update daemon: it owns the device registry,
// serves the hand-rolled DeviceControl gRPC service for fwupdctl, and
// exposes a gin HTTP control surface (device list, install kickoff,
// live install progress over SSE) the way the teacher's
// cmd/driver/hasher-host served its REST API alongside a gRPC backend.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"fwupdcore/internal/config"
	"fwupdcore/internal/device"
	"fwupdcore/internal/logging"
	"fwupdcore/internal/registry"
	"fwupdcore/internal/rpc"
	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/progress"
)

func main() {
	iface := flag.String("hotplug-iface", "", "network interface an eBPF hotplug watcher attaches to; empty disables the eBPF backend")
	sysfsRoot := flag.String("sysfs-root", "/sys/bus/usb/devices", "sysfs directory polled by the fallback hotplug backend")
	flag.Parse()

	log := logging.New("fwupdcored")

	cfg, err := config.Load()
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	quirks, err := device.LoadQuirkDB(cfg.QuirkDBPath)
	if err != nil {
		log.Warnf("load quirk db at %s: %v (continuing with an empty quirk set)", cfg.QuirkDBPath, err)
		quirks = &device.QuirkDB{}
	}

	reg := registry.New(cfg.RemoveDelay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := selectBackend(*iface, *sysfsRoot, log)
	go func() {
		if err := reg.ProbeLoop(ctx, backend, func(ev registry.HotplugEvent) (*device.Device, error) {
			d := resolveHotplug(ev, quirks, cfg)
			d.SetReplugWaiter(reg)
			return d, nil
		}); err != nil && ctx.Err() == nil {
			log.Warnf("probe loop exited: %v", err)
		}
	}()

	grpcSrv := grpc.NewServer()
	rpc.RegisterDeviceControlServer(grpcSrv, rpc.NewServer(reg))

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		log.Errorf("listen grpc on %s: %v", cfg.GRPCListenAddr, err)
		os.Exit(1)
	}
	go func() {
		log.Infof("device control grpc listening on %s", cfg.GRPCListenAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Warnf("grpc server stopped: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerHTTPRoutes(router, reg)

	httpSrv := &http.Server{Addr: cfg.HTTPListenAddr, Handler: router}
	go func() {
		log.Infof("http control surface listening on %s", cfg.HTTPListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	_ = backend.Close()
}

func selectBackend(iface, sysfsRoot string, log *logging.Logger) registry.Backend {
	if iface != "" {
		b, err := registry.NewEBPFBackend(iface)
		if err == nil {
			return b
		}
		log.Warnf("ebpf hotplug backend unavailable (%v), falling back to sysfs polling", err)
	}
	return registry.NewSysfsBackend(sysfsRoot, 2*time.Second, 8)
}

func resolveHotplug(ev registry.HotplugEvent, quirks *device.QuirkDB, cfg *config.Config) *device.Device {
	instanceID := fmt.Sprintf(`USB\VID_%04X&PID_%04X`, ev.VID, ev.PID)
	q := quirks.Lookup(instanceID)
	d := device.New(instanceID, nil, q)
	d.GUID = ev.GUID
	d.InstanceIDs = []string{instanceID}
	return d
}

func registerHTTPRoutes(router *gin.Engine, reg *registry.Registry) {
	api := router.Group("/api/v1")
	{
		api.GET("/devices", func(c *gin.Context) { handleListDevices(c, reg) })
		api.POST("/devices/:guid/install", func(c *gin.Context) { handleInstall(c, reg) })
		api.POST("/devices/install-composite", func(c *gin.Context) { handleInstallComposite(c, reg) })
		api.GET("/devices/:guid/progress", func(c *gin.Context) { handleProgressStream(c, reg) })
	}
}

func handleListDevices(c *gin.Context, reg *registry.Registry) {
	devices := reg.All()
	out := make([]rpc.DeviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, rpc.DeviceSummary{GUID: d.GUID, Name: d.Name, Vendor: d.Vendor, Version: d.Version, State: string(d.State)})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

type installBody struct {
	FirmwareBase64 string `json:"firmware_base64"`
	Force          bool   `json:"force"`
}

func handleInstall(c *gin.Context, reg *registry.Registry) {
	guid := c.Param("guid")
	plan, err := reg.Plan(guid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var body installBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(body.FirmwareBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware_base64 is not valid base64"})
		return
	}
	fw := firmware.NewRaw(raw)
	prog := progress.New()
	if err := plan.Root.WriteFirmware(c.Request.Context(), fw, prog, nil, body.Force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "installed"})
}

type installCompositeBody struct {
	GUIDs          []string `json:"guids"`
	FirmwareBase64 string   `json:"firmware_base64"`
	Force          bool     `json:"force"`
}

// handleInstallComposite writes firmware across an explicit, ordered
// group of devices under a single prepare/cleanup pair (§4.6), the HTTP
// counterpart to rpc.Server.InstallComposite.
func handleInstallComposite(c *gin.Context, reg *registry.Registry) {
	var body installCompositeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	plan, err := reg.PlanComposite(body.GUIDs)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(body.FirmwareBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware_base64 is not valid base64"})
		return
	}
	fw := firmware.NewRaw(raw)
	prog := progress.New()
	if err := device.CompositeTransaction(c.Request.Context(), plan.Members, fw, prog, nil, nil, nil, body.Force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "installed"})
}

// handleProgressStream streams install progress for guid as
// server-sent events, one JSON-encoded {guid, state} reading per tick,
// until the client disconnects or the device reaches StateDone.
func handleProgressStream(c *gin.Context, reg *registry.Registry) {
	guid := c.Param("guid")
	d := reg.Lookup(guid)
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
			payload, _ := json.Marshal(gin.H{"guid": guid, "state": string(d.State)})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			return d.State != device.StateDone
		}
	})
}
