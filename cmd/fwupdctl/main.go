// Command fwupdctl is the operator CLI: it talks to fwupdcored over the
// hand-rolled DeviceControl gRPC service, playing the role the teacher's
// cmd/cli main.go played against hasher-server, but against the JSON
// codec wired up in internal/rpc instead of generated protobuf stubs.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"fwupdcore/internal/rpc"
)

func main() {
	addr := flag.String("addr", "localhost:8443", "fwupdcored grpc address")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := rpc.DialDeviceControl(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwupdctl: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch flag.Arg(0) {
	case "list":
		runList(ctx, client)
	case "install":
		runInstall(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fwupdctl [-addr host:port] list")
	fmt.Fprintln(os.Stderr, "       fwupdctl [-addr host:port] install <guid> <firmware-file>")
}

func runList(ctx context.Context, client *rpc.DeviceControlClient) {
	resp, err := client.ListDevices(ctx, &rpc.ListDevicesRequest{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwupdctl: list devices: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Devices) == 0 {
		fmt.Println("no devices registered")
		return
	}
	for _, d := range resp.Devices {
		fmt.Printf("%-40s %-20s %-10s %-12s %s\n", d.GUID, d.Name, d.Vendor, d.Version, d.State)
	}
}

func runInstall(ctx context.Context, client *rpc.DeviceControlClient) {
	if flag.NArg() < 3 {
		usage()
		os.Exit(2)
	}
	guid, path := flag.Arg(1), flag.Arg(2)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwupdctl: read %s: %v\n", path, err)
		os.Exit(1)
	}

	resp, err := client.Install(ctx, &rpc.InstallRequest{GUID: guid, FwBytes: data})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwupdctl: install: %v\n", err)
		os.Exit(1)
	}
	if !resp.Accepted {
		fmt.Fprintf(os.Stderr, "fwupdctl: install rejected: %s\n", resp.Error)
		os.Exit(1)
	}
	fmt.Printf("install accepted for %s (%d bytes, %s)\n", guid, len(data), base64.StdEncoding.EncodeToString(data[:min(8, len(data))]))
}
