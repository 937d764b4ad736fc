package execattr

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ppiankov/segvguard/internal/model"
)

func stat(path string) (Attributes, error) {
	var stx unix.Statx_t
	mask := unix.STATX_TYPE | unix.STATX_MODE | unix.STATX_INO | unix.STATX_MNT_ID
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, mask, &stx); err != nil {
		return Attributes{}, fmt.Errorf("execattr: statx %s: %w", path, err)
	}

	// Kernels before 5.8 do not report a mount id; the device number
	// still separates filesystems.
	mountID := stx.Mnt_id
	if stx.Mask&unix.STATX_MNT_ID == 0 {
		mountID = unix.Mkdev(stx.Dev_major, stx.Dev_minor)
	}

	mode := uint32(stx.Mode)
	return Attributes{
		ID:    model.FileID{Inode: stx.Ino, MountID: mountID},
		Mode:  mode,
		SetID: mode&(unix.S_ISUID|unix.S_ISGID) != 0,
	}, nil
}
