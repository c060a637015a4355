package rpc

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"fwupdcore/internal/device"
	"fwupdcore/internal/logging"
	"fwupdcore/internal/registry"
	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/progress"
)

// Server adapts a *registry.Registry to DeviceControlServer, the
// daemon-side half of the hand-rolled DeviceControl RPC. It plays the
// role the teacher's cmd/driver/hasher-server main.go played for
// HasherService: a thin translation layer between the wire types and the
// package doing the real work.
type Server struct {
	reg *registry.Registry
	log *logging.Logger
}

// NewServer wraps reg for gRPC dispatch.
func NewServer(reg *registry.Registry) *Server {
	return &Server{reg: reg, log: logging.New("rpc.server")}
}

func (s *Server) Install(ctx context.Context, req *InstallRequest) (*InstallResponse, error) {
	plan, err := s.reg.Plan(req.GUID)
	if err != nil {
		return &InstallResponse{Accepted: false, Error: err.Error()}, nil
	}

	fw := firmware.NewRaw(req.FwBytes)
	prog := progress.New()
	if err := plan.Root.WriteFirmware(ctx, fw, prog, nil, req.Force); err != nil {
		s.log.Warnf("install %s failed: %v", req.GUID, err)
		return &InstallResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &InstallResponse{Accepted: true}, nil
}

// InstallComposite writes fw across an explicit, caller-ordered group of
// devices under a single prepare/cleanup pair, the RPC entry point for
// §4.6's composite transaction (e.g. a dock's PadL/PadR/MCU written as
// one bracketed group rather than through a single device's own
// AddChild tree).
func (s *Server) InstallComposite(ctx context.Context, req *InstallCompositeRequest) (*InstallCompositeResponse, error) {
	plan, err := s.reg.PlanComposite(req.GUIDs)
	if err != nil {
		return &InstallCompositeResponse{Accepted: false, Error: err.Error()}, nil
	}

	fw := firmware.NewRaw(req.FwBytes)
	prog := progress.New()
	if err := device.CompositeTransaction(ctx, plan.Members, fw, prog, nil, nil, nil, req.Force); err != nil {
		s.log.Warnf("composite install %v failed: %v", req.GUIDs, err)
		return &InstallCompositeResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &InstallCompositeResponse{Accepted: true}, nil
}

func (s *Server) ListDevices(ctx context.Context, req *ListDevicesRequest) (*ListDevicesResponse, error) {
	devices := s.reg.All()
	out := make([]DeviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, summarize(d, s.reg.LastSeen(d.GUID)))
	}
	return &ListDevicesResponse{Devices: out}, nil
}

func summarize(d *device.Device, lastSeen time.Time) DeviceSummary {
	s := DeviceSummary{
		GUID:    d.GUID,
		Name:    d.Name,
		Vendor:  d.Vendor,
		Version: d.Version,
		State:   string(d.State),
		Percent: statePercent(d.State),
	}
	if !lastSeen.IsZero() {
		s.LastSeen = timestamppb.New(lastSeen)
	}
	return s
}

func statePercent(st device.State) int {
	switch st {
	case device.StateIdle:
		return 0
	case device.StateProbed:
		return 10
	case device.StateSetup:
		return 20
	case device.StateDetached:
		return 30
	case device.StateWriting:
		return 60
	case device.StateAttached:
		return 80
	case device.StateReloaded:
		return 90
	case device.StateDone:
		return 100
	default:
		return 0
	}
}

var _ DeviceControlServer = (*Server)(nil)
