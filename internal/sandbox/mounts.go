package sandbox

// MountKind is the closed tagged variant of bind-mount behavior a Mount can
// request inside the sandbox.
type MountKind int

const (
	// ReadOnly bind-mounts Src to Dest read-only.
	ReadOnly MountKind = iota
	// ReadWrite bind-mounts Src to Dest writable.
	ReadWrite
	// Temp mounts a tmpfs at Dest sized SizeMB MB. Skipped entirely if
	// SizeMB is 0.
	Temp
)

// Mount describes one filesystem mount to set up inside the sandbox before
// the program runs.
type Mount struct {
	Dest   string
	Kind   MountKind
	Src    string // used by ReadOnly, ReadWrite
	SizeMB uint64 // used by Temp
}

// ReadOnlyMount is a convenience constructor for a ReadOnly Mount.
func ReadOnlyMount(src, dest string) Mount {
	return Mount{Dest: dest, Kind: ReadOnly, Src: src}
}

// ReadWriteMount is a convenience constructor for a ReadWrite Mount.
func ReadWriteMount(src, dest string) Mount {
	return Mount{Dest: dest, Kind: ReadWrite, Src: src}
}

// TempMount is a convenience constructor for a Temp (tmpfs) Mount.
func TempMount(dest string, sizeMB uint64) Mount {
	return Mount{Dest: dest, Kind: Temp, SizeMB: sizeMB}
}

// MountsFromClosure turns a closure's newline-separated path list into
// read-only mounts, each path mounted onto itself inside the sandbox (the
// environment's scripts reference them by their host path).
func MountsFromClosure(closure []string) []Mount {
	mounts := make([]Mount, 0, len(closure))
	for _, path := range closure {
		if path == "" {
			continue
		}
		mounts = append(mounts, ReadOnlyMount(path, path))
	}
	return mounts
}
