// ABOUTME: Static endpoint list for heartbeats and per-sender volume
// ABOUTME: Parses the "host:port [volume]" list format
package broadcast

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// MaxVolume bounds a target volume multiplier
const MaxVolume = 3.0

// Target is a remote endpoint that receives our heartbeats. Volume scales the
// audio received from it.
type Target struct {
	Addr   netip.AddrPort
	Volume float32
}

// ParseTarget parses "host:port" with an optional volume
func ParseTarget(addr string, volume float32) (Target, error) {
	udp, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", addr, err)
	}
	ap := udp.AddrPort()
	if ap.Port() == 0 {
		return Target{}, fmt.Errorf("invalid target %q: missing port", addr)
	}
	if volume < 0 || volume > MaxVolume {
		return Target{}, fmt.Errorf("invalid volume %v for %s: must be 0-%v", volume, addr, MaxVolume)
	}
	return Target{Addr: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), Volume: volume}, nil
}

// ParseTargets reads one target per line. Blank lines and lines starting with
// # are skipped. Every bad line is reported.
func ParseTargets(r io.Reader) ([]Target, error) {
	var (
		targets []Target
		errs    error
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		volume := float32(1.0)
		if len(fields) > 2 {
			errs = multierr.Append(errs, fmt.Errorf("line %d: expected \"host:port [volume]\"", lineNo))
			continue
		}
		if len(fields) == 2 {
			v, err := strconv.ParseFloat(fields[1], 32)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("line %d: invalid volume %q", lineNo, fields[1]))
				continue
			}
			volume = float32(v)
		}

		target, err := ParseTarget(fields[0], volume)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		targets = append(targets, target)
	}
	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}

	return targets, errs
}

// LoadTargets reads a target list file
func LoadTargets(path string) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()

	return ParseTargets(f)
}

// volumeFor returns the configured volume for a sender. A match on the full
// address wins over a match on the IP alone.
func volumeFor(targets []Target, from netip.AddrPort) float32 {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	volume := float32(1.0)
	for _, t := range targets {
		if t.Addr == from {
			return t.Volume
		}
		if t.Addr.Addr() == from.Addr() {
			volume = t.Volume
		}
	}
	return volume
}
