package mock

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

const scanTimeFormat = "Mon Jan _2 15:04:05 2006"

// MockGroup is one dRAID top-level vdev
type MockGroup struct {
	Name    string // descriptor plus index, e.g. draid2:8c:1s:5d-0
	Devices []string
	Spare   string // distributed spare, e.g. draid2-0-0
}

// MockPool is the emulated state of one pool
type MockPool struct {
	Name   string
	State  string
	Groups []MockGroup

	Offline     string
	Replacement string

	// Activity is "resilver", "scrub" or empty
	Activity  string
	PollsLeft int
	Scan      string
	Started   time.Time
}

func (p *MockPool) contains(dev string) bool {
	for _, g := range p.Groups {
		for _, d := range g.Devices {
			if d == dev {
				return true
			}
		}
	}
	return p.Replacement == dev
}

func (p *MockPool) groupOf(dev string) (int, bool) {
	for i, g := range p.Groups {
		for _, d := range g.Devices {
			if d == dev {
				return i, true
			}
		}
	}
	return 0, false
}

func (s *StorageHost) handleShell(script string) (string, string, int) {
	glob, ok := strings.CutPrefix(script, "ls -1d ")
	if !ok {
		return "", fmt.Sprintf("sh: unsupported script %q\n", script), 2
	}
	glob = strings.TrimSpace(glob)

	s.mu.RLock()
	var matches []string
	for dev := range s.disks {
		if ok, _ := path.Match(glob, dev); ok {
			matches = append(matches, dev)
		}
	}
	s.mu.RUnlock()

	if len(matches) == 0 {
		return "", fmt.Sprintf("ls: cannot access '%s': No such file or directory\n", glob), 2
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n") + "\n", "", 0
}

func (s *StorageHost) handleSmartctl(args []string) (string, string, int) {
	if len(args) != 2 || args[0] != "-i" {
		return "", "smartctl: invalid arguments\n", 1
	}
	dev := args[1]

	s.mu.RLock()
	id, ok := s.disks[dev]
	s.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Smartctl open device: %s failed: No such device\n", dev), "", 2
	}

	var b strings.Builder
	b.WriteString("smartctl 7.4 2023-08-01 r5530 [x86_64-linux-6.8.0] (local build)\n\n")
	b.WriteString("=== START OF INFORMATION SECTION ===\n")
	b.WriteString("Vendor:               SEAGATE\n")
	b.WriteString("Product:              ST4000NM0023\n")
	b.WriteString("User Capacity:        4,000,787,030,016 bytes [4.00 TB]\n")
	fmt.Fprintf(&b, "Logical Unit id:      0x%s\n", id)
	fmt.Fprintf(&b, "Serial number:        Z1Z%05X\n", len(id))
	b.WriteString("Device type:          disk\n")
	return b.String(), "", 0
}

func (s *StorageHost) handleZpool(args []string) (string, string, int) {
	if len(args) == 0 {
		return "", "missing command\n", 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return s.zpoolCreate(rest)
	case "offline":
		return s.zpoolOffline(rest)
	case "replace":
		return s.zpoolReplace(rest)
	case "scrub":
		return s.zpoolScrub(rest)
	case "status":
		return s.zpoolStatus(rest)
	case "list":
		return s.zpoolList(rest)
	case "destroy":
		return s.zpoolDestroy(rest)
	}
	return "", fmt.Sprintf("unrecognized command '%s'\n", sub), 2
}

func noSuchPool(name string) (string, string, int) {
	return "", fmt.Sprintf("cannot open '%s': no such pool\n", name), 1
}

// diskForPath resolves a by-id path back to a known disk
func (s *StorageHost) diskForPath(p string) (string, bool) {
	if _, ok := s.disks[p]; ok {
		return p, true
	}
	for dev, id := range s.disks {
		if strings.HasSuffix(p, id) {
			return dev, true
		}
	}
	return "", false
}

func (s *StorageHost) inUse(p string) (string, bool) {
	for name, pool := range s.pools {
		if pool.contains(p) {
			return name, true
		}
	}
	return "", false
}

func (s *StorageHost) zpoolCreate(args []string) (string, string, int) {
	if len(args) > 0 && args[0] == "-f" {
		args = args[1:]
	}
	if len(args) < 2 {
		return "", "missing pool name or vdev specification\n", 2
	}
	if fail, msg := s.errorInjector.ShouldFailCreate(); fail {
		klog.V(2).Infof("MOCK ERROR INJECTION: create failed")
		return "", msg, 1
	}
	name, spec := args[0], args[1:]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[name]; exists {
		return "", fmt.Sprintf("cannot create '%s': pool already exists\n", name), 1
	}

	var groups []MockGroup
	for _, tok := range spec {
		if strings.HasPrefix(tok, "draid") {
			groups = append(groups, MockGroup{
				Name:  fmt.Sprintf("%s-%d", tok, len(groups)),
				Spare: fmt.Sprintf("%s-%d-0", strings.SplitN(tok, ":", 2)[0], len(groups)),
			})
			continue
		}
		if len(groups) == 0 {
			return "", fmt.Sprintf("invalid vdev specification: %s precedes any vdev type\n", tok), 1
		}
		if _, ok := s.diskForPath(tok); !ok {
			return "", fmt.Sprintf("cannot open '%s': no such device in /dev\nmust be a full path or shorthand device name\n", tok), 1
		}
		if other, busy := s.inUse(tok); busy {
			return "", fmt.Sprintf("%s is part of active pool '%s'\n", tok, other), 1
		}
		g := &groups[len(groups)-1]
		g.Devices = append(g.Devices, tok)
	}

	for _, g := range groups {
		if want := childrenOf(g.Name); want != len(g.Devices) {
			return "", fmt.Sprintf("invalid vdev specification: %s requires %d children, got %d\n", g.Name, want, len(g.Devices)), 1
		}
	}

	s.timing.SimulatePoolOperation("create")
	s.pools[name] = &MockPool{Name: name, State: "ONLINE", Groups: groups, Started: time.Now()}
	return "", "", 0
}

// childrenOf reads the Nc field of a draid descriptor
func childrenOf(group string) int {
	for _, part := range strings.Split(group, ":") {
		if n, ok := strings.CutSuffix(part, "c"); ok {
			if v, err := strconv.Atoi(n); err == nil {
				return v
			}
		}
	}
	return -1
}

func (s *StorageHost) zpoolOffline(args []string) (string, string, int) {
	if len(args) != 2 {
		return "", "usage: offline <pool> <device>\n", 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[args[0]]
	if !ok {
		return noSuchPool(args[0])
	}
	if _, ok := pool.groupOf(args[1]); !ok {
		return "", fmt.Sprintf("cannot offline %s: no such device in pool\n", args[1]), 1
	}
	if pool.Offline != "" {
		return "", fmt.Sprintf("cannot offline %s: no valid replicas\n", args[1]), 1
	}
	pool.Offline = args[1]
	pool.State = "DEGRADED"
	return "", "", 0
}

func (s *StorageHost) zpoolReplace(args []string) (string, string, int) {
	if len(args) != 3 {
		return "", "usage: replace <pool> <device> <new-device>\n", 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[args[0]]
	if !ok {
		return noSuchPool(args[0])
	}
	old, repl := args[1], args[2]
	g, ok := pool.groupOf(old)
	if !ok {
		return "", fmt.Sprintf("cannot replace %s with %s: no such device in pool\n", old, repl), 1
	}

	if strings.HasPrefix(repl, "/") {
		if _, known := s.diskForPath(repl); !known {
			return "", fmt.Sprintf("cannot open '%s': no such device in /dev\n", repl), 1
		}
		if other, busy := s.inUse(repl); busy {
			return "", fmt.Sprintf("%s is part of active pool '%s'\n", repl, other), 1
		}
	} else if repl != pool.Groups[g].Spare {
		return "", fmt.Sprintf("cannot replace %s with %s: no such distributed spare\n", old, repl), 1
	}

	pool.Replacement = repl
	pool.Activity = "resilver"
	pool.PollsLeft = s.config.RecoveryPolls
	pool.Started = time.Now()
	return "", "", 0
}

func (s *StorageHost) zpoolScrub(args []string) (string, string, int) {
	if len(args) != 1 {
		return "", "usage: scrub <pool>\n", 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[args[0]]
	if !ok {
		return noSuchPool(args[0])
	}
	if pool.Activity != "" {
		return "", fmt.Sprintf("cannot scrub %s: currently %sing\n", pool.Name, pool.Activity), 1
	}
	pool.Activity = "scrub"
	pool.PollsLeft = s.config.RecoveryPolls
	pool.Started = time.Now()
	return "", "", 0
}

func (s *StorageHost) zpoolList(args []string) (string, string, int) {
	if len(args) == 0 {
		return "", "", 0
	}
	name := args[len(args)-1]
	s.mu.RLock()
	_, ok := s.pools[name]
	s.mu.RUnlock()
	if !ok {
		return noSuchPool(name)
	}
	return name + "\n", "", 0
}

func (s *StorageHost) zpoolDestroy(args []string) (string, string, int) {
	if len(args) > 0 && args[0] == "-f" {
		args = args[1:]
	}
	if len(args) != 1 {
		return "", "usage: destroy [-f] <pool>\n", 2
	}
	name := args[0]

	s.mu.RLock()
	_, ok := s.pools[name]
	s.mu.RUnlock()
	if !ok {
		return noSuchPool(name)
	}
	if fail, msg := s.errorInjector.ShouldFailDestroy(name); fail {
		klog.V(2).Infof("MOCK ERROR INJECTION: destroy of %s failed", name)
		return "", msg, 1
	}

	s.timing.SimulatePoolOperation("destroy")
	s.mu.Lock()
	delete(s.pools, name)
	s.mu.Unlock()
	return "", "", 0
}

func (s *StorageHost) zpoolStatus(args []string) (string, string, int) {
	if len(args) != 1 {
		return "", "usage: status <pool>\n", 2
	}
	if fail, msg := s.errorInjector.ShouldFailStatus(); fail {
		klog.V(2).Infof("MOCK ERROR INJECTION: status failed")
		return "", msg, 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[args[0]]
	if !ok {
		return noSuchPool(args[0])
	}
	s.advance(pool)
	return renderStatus(pool), "", 0
}

// advance consumes one poll of in-progress work and completes it when none remain
func (s *StorageHost) advance(p *MockPool) {
	switch {
	case p.Activity == "":
		return
	case p.PollsLeft > 0:
		p.PollsLeft--
		p.Scan = inProgressScan(p)
		return
	}

	elapsed := time.Since(p.Started).Round(time.Second)
	finished := time.Now().Format(scanTimeFormat)
	switch p.Activity {
	case "resilver":
		if strings.HasPrefix(p.Replacement, "/") {
			// A real device takes the offline one's place
			g, _ := p.groupOf(p.Offline)
			for i, d := range p.Groups[g].Devices {
				if d == p.Offline {
					p.Groups[g].Devices[i] = p.Replacement
				}
			}
			p.Offline, p.Replacement = "", ""
			p.State = "ONLINE"
			p.Scan = fmt.Sprintf("resilvered 12.1G in %s with 0 errors on %s", clock(elapsed), finished)
		} else {
			g, _ := p.groupOf(p.Offline)
			p.Scan = fmt.Sprintf("resilvered (%s) 12.1G in %s with 0 errors on %s", p.Groups[g].Name, clock(elapsed), finished)
		}
	case "scrub":
		p.Scan = fmt.Sprintf("scrub repaired 0B in %s with 0 errors on %s", clock(elapsed), finished)
	}
	p.Activity = ""
}

func inProgressScan(p *MockPool) string {
	since := p.Started.Format(scanTimeFormat)
	if p.Activity == "scrub" {
		return "scrub in progress since " + since
	}
	if strings.HasPrefix(p.Replacement, "/") {
		return "resilver in progress since " + since
	}
	g, _ := p.groupOf(p.Offline)
	return fmt.Sprintf("resilver (%s) in progress since %s", p.Groups[g].Name, since)
}

func clock(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func renderStatus(p *MockPool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  pool: %s\n", p.Name)
	fmt.Fprintf(&b, " state: %s\n", p.State)
	if p.State == "DEGRADED" {
		b.WriteString("status: One or more devices has been taken offline by the administrator.\n")
	}
	if p.Scan != "" {
		fmt.Fprintf(&b, "  scan: %s\n", p.Scan)
	}
	if p.Activity != "" {
		b.WriteString("\t12.1G scanned at 1.37G/s, 8.0G issued 1.27G/s, 98.4G total\n")
	}
	b.WriteString("config:\n\n")
	row(&b, 0, "NAME", "STATE", false)
	row(&b, 0, p.Name, p.State, true)

	for _, g := range p.Groups {
		groupState := "ONLINE"
		if p.Offline != "" {
			if gi, ok := p.groupOf(p.Offline); ok && p.Groups[gi].Name == g.Name {
				groupState = "DEGRADED"
			}
		}
		row(&b, 1, g.Name, groupState, true)
		for _, d := range g.Devices {
			if d != p.Offline {
				row(&b, 2, d, "ONLINE", true)
				continue
			}
			if p.Replacement == "" {
				row(&b, 2, d, "OFFLINE", true)
				continue
			}
			row(&b, 2, "spare-0", "DEGRADED", true)
			row(&b, 3, d, "OFFLINE", true)
			row(&b, 3, p.Replacement, "ONLINE", true)
		}
	}

	if len(p.Groups) > 0 {
		b.WriteString("\tspares\n")
		for _, g := range p.Groups {
			state := "AVAIL"
			if g.Spare == p.Replacement {
				state = "INUSE"
			}
			row(&b, 1, g.Spare, state, false)
		}
	}
	b.WriteString("\nerrors: No known data errors\n")
	return b.String()
}

func row(b *strings.Builder, depth int, name, state string, counters bool) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("\t%-40s %-9s", indent+name, state)
	switch {
	case name == "NAME":
		line += " READ WRITE CKSUM"
	case counters:
		line += "    0     0     0"
	}
	b.WriteString(strings.TrimRight(line, " ") + "\n")
}
