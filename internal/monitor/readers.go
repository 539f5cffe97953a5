package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type cpuTimes struct {
	idle  uint64
	total uint64
}

// readCPUPercent computes utilization from the /proc/stat delta since the
// previous sample. The first sample has no baseline and reports zero.
func (s *Sampler) readCPUPercent() (float64, error) {
	current, err := readCPUTimes(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	previous := s.lastCPU
	s.lastCPU = &current
	s.mu.Unlock()

	if previous == nil {
		return 0, nil
	}
	totalDelta := float64(current.total - previous.total)
	if totalDelta <= 0 {
		return 0, nil
	}
	idleDelta := float64(current.idle - previous.idle)
	return (1 - idleDelta/totalDelta) * 100, nil
}

func readCPUTimes(path string) (cpuTimes, error) {
	file, err := os.Open(path)
	if err != nil {
		return cpuTimes{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var times cpuTimes
		for i, field := range fields[1:] {
			value, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse cpu field %q: %w", field, err)
			}
			times.total += value
			// Fields 4 and 5 are idle and iowait.
			if i == 3 || i == 4 {
				times.idle += value
			}
		}
		return times, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{}, fmt.Errorf("no cpu line in %s", path)
}

func (s *Sampler) readMemoryPercent() (float64, error) {
	file, err := os.Open(filepath.Join(s.procRoot, "meminfo"))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var totalKB, availableKB uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availableKB = value
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("MemTotal missing from meminfo")
	}
	return float64(totalKB-availableKB) / float64(totalKB) * 100, nil
}

func (s *Sampler) readDiskPercent() (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.diskPath, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", s.diskPath, err)
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := stat.Bavail * uint64(stat.Bsize)
	return float64(total-free) / float64(total) * 100, nil
}

// readTemperature reads the SoC thermal zone in millidegrees Celsius.
func (s *Sampler) readTemperature() (float64, error) {
	data, err := os.ReadFile(filepath.Join(s.sysRoot, "class/thermal/thermal_zone0/temp"))
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse thermal reading: %w", err)
	}
	return float64(milli) / 1000, nil
}

// readNetworkBytes sums rx/tx byte counters over all non-loopback devices.
func (s *Sampler) readNetworkBytes() (uint64, uint64, error) {
	file, err := os.Open(filepath.Join(s.procRoot, "net/dev"))
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	var rx, tx uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		device := strings.TrimSpace(line[:idx])
		if device == "lo" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			continue
		}
		if value, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
			rx += value
		}
		if value, err := strconv.ParseUint(fields[8], 10, 64); err == nil {
			tx += value
		}
	}
	return rx, tx, scanner.Err()
}
