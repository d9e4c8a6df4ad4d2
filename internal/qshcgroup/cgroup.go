// Package qshcgroup applies Linux cgroup v2 resource limits to a job's
// process group, backing the `ulimit` built-in supplement.
//
// Follows the jobworker cgroup package's shape (Service/Cgroup/controller
// split, memory.high and cpu.max controls, leaf-cgroup-per-pid layout for
// cgroup.procs bookkeeping). Unlike a daemon that mounts and owns a private
// cgroup2 filesystem for a multi-tenant workload, qsh is a single
// interactive process running as whatever user invoked it: it
// attaches to the system's already-mounted cgroup2 hierarchy (conventionally
// /sys/fs/cgroup) instead of mounting its own, and only wires the memory and
// cpu controllers — there is no natural `ulimit` flag surface in an
// interactive shell for io.max's per-block-device bandwidth knobs, so the
// disk-I/O controllers and the /dev walk that discovers block device minors
// are not carried over.
package qshcgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tjper/qsh/internal/errors"
	"github.com/tjper/qsh/internal/log"
)

var logger = log.New(os.Stdout, "qshcgroup")

const (
	dirMode  = 0755
	fileMode = 0644

	cgroupProcs          = "cgroup.procs"
	cgroupSubtreeControl = "cgroup.subtree_control"
	memoryHigh           = "memory.high"
	cpuMax               = "cpu.max"
)

// DefaultMountPath is the conventional cgroup2 mount point on a modern
// Linux system.
const DefaultMountPath = "/sys/fs/cgroup"

// Service manages qsh's subtree of the host's cgroup2 hierarchy, one leaf
// cgroup per resource-limited job.
type Service struct {
	// path is qsh's own cgroup directory, a child of the system's cgroup2
	// mount.
	path string

	mu sync.Mutex
	// leaves maps a limited pid to its uuid leaf directory name, so Remove
	// can find the same leaf Apply created without re-deriving it from the
	// pid alone: a pid-keyed leaf name would let the kernel reuse the pid of
	// a since-removed job and collide with a leaf Remove never cleaned up.
	leaves map[int]string
}

// NewService attaches to the cgroup2 hierarchy mounted at mountPath and
// ensures qsh's own subtree cgroup exists, with the memory and cpu
// controllers enabled for its children. It does not mount cgroup2 itself:
// an interactive shell running as an unprivileged user has no business
// mounting filesystems, unlike the privileged daemon this is grounded on.
func NewService(mountPath string) (*Service, error) {
	if _, err := os.Stat(mountPath); err != nil {
		return nil, errors.Wrap(fmt.Errorf("cgroup2 not mounted at %s: %w", mountPath, err))
	}

	path := filepath.Join(mountPath, "qsh")
	if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, errors.Wrap(fmt.Errorf("create qsh cgroup: %w", err))
	}

	if err := enableControllers(path, "memory", "cpu"); err != nil {
		return nil, err
	}

	return &Service{path: path, leaves: make(map[int]string)}, nil
}

// Limit is a resource cap applied to a job's leader process group. A
// zeroed field means "no limit" and that controller is left unset.
type Limit struct {
	// MemoryHigh is the memory.high throttling threshold, in bytes.
	MemoryHigh uint64
	// Cpus is the number of CPUs, expressed as a cpu.max fraction (e.g. 0.5
	// for half a CPU).
	Cpus float32
}

// newLeafPath allocates a fresh uuid-named leaf cgroup directory for pid and
// records the mapping for a later Remove.
func (s *Service) newLeafPath(pid int) string {
	name := uuid.New().String()
	s.mu.Lock()
	s.leaves[pid] = name
	s.mu.Unlock()
	return filepath.Join(s.path, name)
}

// leafPath returns the leaf cgroup directory Apply created for pid, or ""
// if none is tracked.
func (s *Service) leafPath(pid int) string {
	s.mu.Lock()
	name, ok := s.leaves[pid]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	return filepath.Join(s.path, name)
}

// Apply creates a leaf cgroup for pid, applies limit's controls, and moves
// pid into it. pid is normally a job's leader pid. Only pid, and processes
// it forks afterwards, are limited: the other members of its process group
// are not moved into the leaf.
func (s *Service) Apply(pid int, limit Limit) error {
	leaf := s.newLeafPath(pid)
	if err := os.Mkdir(leaf, dirMode); err != nil {
		return errors.Wrap(fmt.Errorf("create leaf cgroup: %w", err))
	}

	if limit.MemoryHigh > 0 {
		if err := writeControl(leaf, memoryHigh, strconv.FormatUint(limit.MemoryHigh, 10)); err != nil {
			return err
		}
	}
	if limit.Cpus > 0 {
		const period = 100000
		value := fmt.Sprintf("%d %d", int(limit.Cpus*period), period)
		if err := writeControl(leaf, cpuMax, value); err != nil {
			return err
		}
	}

	if err := os.WriteFile(filepath.Join(leaf, cgroupProcs), []byte(strconv.Itoa(pid)), fileMode); err != nil {
		return errors.Wrap(fmt.Errorf("move pid into leaf cgroup: %w", err))
	}
	return nil
}

// Remove moves pid back to the root cgroup and deletes its leaf cgroup.
// Remove is a best-effort cleanup: it logs failures rather than returning
// them. The shell's reaper does not call it.
func (s *Service) Remove(pid int) {
	leaf := s.leafPath(pid)
	if leaf == "" {
		return
	}
	defer func() {
		s.mu.Lock()
		delete(s.leaves, pid)
		s.mu.Unlock()
	}()

	root := filepath.Join(filepath.Dir(filepath.Dir(leaf)), cgroupProcs)
	if err := os.WriteFile(root, []byte(strconv.Itoa(pid)), fileMode); err != nil {
		logger.Warnf("move pid %d to root cgroup; error: %s", pid, err)
	}
	if err := os.Remove(leaf); err != nil {
		logger.Warnf("remove leaf cgroup %s; error: %s", leaf, err)
	}
}

func writeControl(dir, control, value string) error {
	path := filepath.Join(dir, control)
	if err := os.WriteFile(path, []byte(value), fileMode); err != nil {
		return errors.Wrap(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

func enableControllers(dir string, names ...string) error {
	path := filepath.Join(dir, cgroupSubtreeControl)
	f, err := os.OpenFile(path, os.O_WRONLY, fileMode)
	if err != nil {
		return errors.Wrap(fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	for _, name := range names {
		if _, err := f.WriteString("+" + name); err != nil {
			return errors.Wrap(fmt.Errorf("enable %s controller: %w", name, err))
		}
	}
	return nil
}
