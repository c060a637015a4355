// Command fwupdmon is a terminal monitor: it polls fwupdcored's device
// list and renders it as a live bubbletea table with per-device progress
// bars, styled with lipgloss and able to copy a device's GUID to the
// clipboard — the same component stack (bubbles, bubbletea, lipgloss,
// x/ansi, atotto/clipboard) the teacher's internal/cli/ui package used
// for its interactive console, retargeted from ASIC/chat panes to a
// single device table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"fwupdcore/internal/rpc"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

type deviceRow struct {
	GUID, Name, Vendor, Version, State string
	Percent                            int
}

type model struct {
	client  *rpc.DeviceControlClient
	table   table.Model
	bar     progress.Model
	devices []deviceRow
	width   int
	cpuPct  float64
	memPct  float64
	lastErr string
	copied  string
}

type tickMsg time.Time
type devicesMsg []deviceRow
type resourceMsg struct{ cpu, mem float64 }
type errMsg error

func newModel(client *rpc.DeviceControlClient) model {
	columns := []table.Column{
		{Title: "GUID", Width: 30},
		{Title: "Name", Width: 16},
		{Title: "Vendor", Width: 10},
		{Title: "Version", Width: 10},
		{Title: "State", Width: 10},
		{Title: "Progress", Width: 24},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(12))
	return model{
		client: client,
		table:  t,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func main() {
	addr := flag.String("addr", "localhost:8443", "fwupdcored grpc address")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rpc.DialDeviceControl(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwupdmon: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(client))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fwupdmon: %v\n", err)
		os.Exit(1)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.pollDevices(), m.pollResources(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) pollDevices() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		resp, err := m.client.ListDevices(ctx, &rpc.ListDevicesRequest{})
		if err != nil {
			return errMsg(err)
		}
		rows := make([]deviceRow, 0, len(resp.Devices))
		for _, d := range resp.Devices {
			rows = append(rows, deviceRow{GUID: d.GUID, Name: d.Name, Vendor: d.Vendor, Version: d.Version, State: d.State, Percent: d.Percent})
		}
		return devicesMsg(rows)
	}
}

func (m model) pollResources() tea.Cmd {
	return func() tea.Msg {
		cpuPct, _ := psutil.Percent(0, false)
		memInfo, _ := psmem.VirtualMemory()
		var cpu, mem float64
		if len(cpuPct) > 0 {
			cpu = cpuPct[0]
		}
		if memInfo != nil {
			mem = memInfo.UsedPercent
		}
		return resourceMsg{cpu: cpu, mem: mem}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "c":
			if row := m.table.SelectedRow(); len(row) > 0 {
				guid := row[0]
				if err := clipboard.WriteAll(guid); err == nil {
					m.copied = guid
				}
			}
		}
	case tickMsg:
		cmds = append(cmds, m.pollDevices(), m.pollResources(), tick())
	case devicesMsg:
		m.devices = msg
		m.lastErr = ""
		m.table.SetRows(rowsFor(m.devices, m.bar))
	case resourceMsg:
		m.cpuPct, m.memPct = msg.cpu, msg.mem
	case errMsg:
		m.lastErr = msg.Error()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func rowsFor(devices []deviceRow, bar progress.Model) []table.Row {
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, table.Row{d.GUID, d.Name, d.Vendor, d.Version, d.State, bar.ViewAs(float64(d.Percent) / 100)})
	}
	return rows
}

func (m model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}

	var out string
	out += headerStyle.Render("fwupdmon — device monitor") + "\n\n"

	if m.lastErr != "" {
		out += errorStyle.Render(ansi.Wordwrap("error: "+m.lastErr, width, " \t")) + "\n\n"
	}
	if len(m.devices) == 0 {
		out += "no devices registered\n\n"
	} else {
		out += m.table.View() + "\n\n"
	}

	status := fmt.Sprintf("cpu %.1f%%  mem %.1f%%", m.cpuPct, m.memPct)
	if m.copied != "" {
		status += "  copied " + m.copied
	}
	out += footerStyle.Render(ansi.Wordwrap(status, width, " \t")) + "\n"
	out += "↑/↓ select · c copy guid · q quit\n"
	return out
}
