package inventory

import (
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// DefaultProcRoot is where the process table is mounted on Linux.
const DefaultProcRoot = "/proc"

// OwnerResolver maps a pid to its owner and command name using the process
// table under procRoot.
type OwnerResolver struct {
	procRoot   string
	lookupUser func(uid string) (*user.User, error)
}

// NewOwnerResolver creates an OwnerResolver reading from procRoot and the
// system user database.
func NewOwnerResolver(procRoot string) *OwnerResolver {
	return newOwnerResolverFrom(procRoot, user.LookupId)
}

// newOwnerResolverFrom allows tests to supply a fake proc root and user
// database.
func newOwnerResolverFrom(procRoot string, lookup func(string) (*user.User, error)) *OwnerResolver {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &OwnerResolver{procRoot: procRoot, lookupUser: lookup}
}

// UID returns the owner uid of /proc/<pid>. It fails when the entry is not
// visible, e.g. the process exited or lives in another pid namespace.
func (r *OwnerResolver) UID(pid uint32) (uint32, error) {
	var st unix.Stat_t
	path := filepath.Join(r.procRoot, strconv.FormatUint(uint64(pid), 10))
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return st.Uid, nil
}

// Username resolves uid through the user database.
func (r *OwnerResolver) Username(uid uint32) (string, error) {
	u, err := r.lookupUser(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Comm returns the command name of pid from <procRoot>/<pid>/comm.
func (r *OwnerResolver) Comm(pid uint32) (string, error) {
	fs, err := procfs.NewFS(r.procRoot)
	if err != nil {
		return "", fmt.Errorf("opening procfs at %s: %w", r.procRoot, err)
	}
	p, err := fs.Proc(int(pid))
	if err != nil {
		return "", err
	}
	comm, err := p.Comm()
	if err != nil {
		return "", err
	}
	return comm, nil
}
