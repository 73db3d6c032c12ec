package handler

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// procFS reads host and process statistics from a procfs mount.
type procFS struct {
	root string
}

func (p procFS) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.root, name))
	return string(data), err
}

// cpuTimes returns the idle and total jiffies from the aggregate cpu line.
func (p procFS) cpuTimes() (idle, total uint64, err error) {
	data, err := p.read("stat")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(strings.SplitN(data, "\n", 2)[0])
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, errors.New("unexpected stat format")
	}
	for i, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		total += v
		// user nice system idle: idle is the fourth column.
		if i == 3 {
			idle = v
		}
	}
	return idle, total, nil
}

func (p procFS) cpuModel() string {
	data, err := p.read("cpuinfo")
	if err != nil {
		return "unknown"
	}
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		if key, val, ok := strings.Cut(sc.Text(), ":"); ok && strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(val)
		}
	}
	return "unknown"
}

// memory returns MemTotal and MemAvailable in bytes.
func (p procFS) memory() (total, available uint64, err error) {
	kv, err := p.keyed("meminfo")
	if err != nil {
		return 0, 0, err
	}
	return kv["MemTotal"], kv["MemAvailable"], nil
}

// rss returns the resident set size of this process in bytes.
func (p procFS) rss() (uint64, error) {
	kv, err := p.keyed("self/status")
	if err != nil {
		return 0, err
	}
	v, ok := kv["VmRSS"]
	if !ok {
		return 0, errors.New("VmRSS not found")
	}
	return v, nil
}

func (p procFS) loadAvg() (l1, l5, l15 float64, err error) {
	data, err := p.read("loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	f := strings.Fields(data)
	if len(f) < 3 {
		return 0, 0, 0, fmt.Errorf("unexpected loadavg format: %q", data)
	}
	l1, _ = strconv.ParseFloat(f[0], 64)
	l5, _ = strconv.ParseFloat(f[1], 64)
	l15, _ = strconv.ParseFloat(f[2], 64)
	return l1, l5, l15, nil
}

// keyed parses "Key:   1234 kB" lines, converting kB values to bytes.
func (p procFS) keyed(name string) (map[string]uint64, error) {
	data, err := p.read(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64)
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		f := strings.Fields(rest)
		if len(f) == 0 {
			continue
		}
		v, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil {
			continue
		}
		if len(f) > 1 && f[1] == "kB" {
			v *= 1024
		}
		out[key] = v
	}
	return out, nil
}

func diskUsage(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}
