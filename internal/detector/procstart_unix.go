//go:build !windows

package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// StartTime returns the OS creation time of pid. ok is false when it cannot
// be determined.
func StartTime(pid int) (time.Time, bool) {
	if pid <= 0 {
		return time.Time{}, false
	}
	var ms int64
	if runtime.GOOS == "linux" {
		ms = procStartMillisLinux(pid)
	}
	if ms <= 0 {
		// Darwin/BSD, or /proc unreadable: gopsutil uses sysctl under the hood
		p, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			return time.Time{}, false
		}
		ms, err = p.CreateTime()
		if err != nil || ms <= 0 {
			return time.Time{}, false
		}
	}
	return time.UnixMilli(ms), true
}

// procStartMillisLinux reads /proc to compute the start time in milliseconds
// without spawning external processes.
func procStartMillisLinux(pid int) int64 {
	// starttime is field 22 of /proc/[pid]/stat, in clock ticks since boot
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// comm may contain spaces; it ends at the last ") "
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	parts := strings.Fields(strings.TrimSpace(line[end+2:]))
	if len(parts) < 20 {
		return 0
	}
	startTicks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}
	btime := bootTimeLinux()
	if btime == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime*1000 + startTicks*1000/clk
}

func bootTimeLinux() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			if bt, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(text, "btime ")), 10, 64); err == nil {
				return bt
			}
			return 0
		}
	}
	return 0
}
