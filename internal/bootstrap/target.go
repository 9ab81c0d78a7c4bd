package bootstrap

import "fmt"

type Kind int

const (
	KindPackage Kind = iota
	KindRootfs
	KindCdrom
)

var kinds = []struct {
	name   string
	marker string
	file   string
}{
	KindPackage: {name: "package", marker: "PackageBootstrapDir", file: "basechroot-package.squashfs"},
	KindRootfs:  {name: "rootfs", marker: "RootfsBootstrapDir", file: "basechroot-rootfs.squashfs"},
	KindCdrom:   {name: "cdrom", marker: "CdromBootstrapDirectory", file: "basechroot-cdrom.squashfs"},
}

func Kinds() []Kind {
	return []Kind{KindPackage, KindRootfs, KindCdrom}
}

func ParseKind(s string) (Kind, error) {
	for i, k := range kinds {
		if k.name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bootstrap kind %q (want package, rootfs or cdrom)", s)
}

func (k Kind) valid() bool {
	return k >= 0 && int(k) < len(kinds)
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// MarkerName is the scratch file the intact verdict is written to.
func (k Kind) MarkerName() string {
	if !k.valid() {
		return ""
	}
	return kinds[k].marker
}

func (k Kind) CacheFilename() string {
	if !k.valid() {
		return ""
	}
	return kinds[k].file
}

// Target is one chroot environment that can be cached.
type Target struct {
	Kind Kind
	// ChrootDir is the working directory the chroot is built in and restored to.
	ChrootDir string
	// Packages is the package set requested for this chroot.
	Packages []string
}
