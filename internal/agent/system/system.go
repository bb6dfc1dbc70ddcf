// Package system implements the agent's /system/* introspection and control
// surface: OS/kernel/uptime/load-average info, network interfaces, and
// best-effort reboot/shutdown.
package system

import (
	"net"
	"os/exec"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

// Info mirrors Platform::API::GetOSInfo/GetKernelVersion/GetUptime/GetLoadAverage.
type Info struct {
	Hostname     string    `json:"hostname"`
	OS           string    `json:"os"`
	Kernel       string    `json:"kernel"`
	UptimeSecs   uint64    `json:"uptime_seconds"`
	LoadAverage  []float64 `json:"load_average"`
	PlatformName string    `json:"platform"`
}

// NetworkInterface mirrors Platform::API::GetNetworkInterfaces's element shape.
type NetworkInterface struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
	IsUp    bool   `json:"is_up"`
}

// Controller implements router.SystemController against the host OS.
type Controller struct{}

// NewController builds a Controller; it holds no state.
func NewController() *Controller { return &Controller{} }

// Info gathers OS name, kernel version, uptime, and 1/5/15-minute load
// average. Load average is unavailable on Windows; the field is left empty
// there rather than erroring the whole call.
func (c *Controller) Info() (interface{}, error) {
	hostInfo, err := host.Info()
	if err != nil {
		return nil, err
	}

	var loadAvg []float64
	if avg, err := load.Avg(); err == nil {
		loadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return Info{
		Hostname:     hostInfo.Hostname,
		OS:           hostInfo.OS,
		Kernel:       hostInfo.KernelVersion,
		UptimeSecs:   hostInfo.Uptime,
		LoadAverage:  loadAvg,
		PlatformName: hostInfo.Platform,
	}, nil
}

// NetworkInterfaces lists every interface's first IPv4 address and netmask.
// Pure stdlib: net.Interfaces is a thin OS wrapper with no third-party
// equivalent exercised elsewhere in this repo (see DESIGN.md).
func (c *Controller) NetworkInterfaces() (interface{}, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]NetworkInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		entry := NetworkInterface{Name: iface.Name, IsUp: iface.Flags&net.FlagUp != 0}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			entry.IP = ip4.String()
			entry.Netmask = net.IP(ipNet.Mask).String()
			break
		}
		out = append(out, entry)
	}
	return out, nil
}

// Reboot shells out to the platform's native reboot command and returns
// immediately without waiting for it — a successful reboot never lets the
// command finish observing its own exit status.
func (c *Controller) Reboot() error {
	return runDetached(rebootCommand())
}

// Shutdown shells out to the platform's native shutdown command, same
// fire-and-forget contract as Reboot.
func (c *Controller) Shutdown() error {
	return runDetached(shutdownCommand())
}

func rebootCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "shutdown", []string{"/r", "/t", "0"}
	}
	return "shutdown", []string{"-r", "now"}
}

func shutdownCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "shutdown", []string{"/s", "/t", "0"}
	}
	return "shutdown", []string{"now"}
}

// runDetached starts name without waiting for it. No context deadline is
// attached: exec.CommandContext kills its process the instant the context
// is done, which would race the detached process to death the moment this
// function returns.
func runDetached(name string, args []string) error {
	cmd := exec.Command(name, args...)
	return cmd.Start()
}
