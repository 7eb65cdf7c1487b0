package memcheck

import internal "github.com/kolkov/memcheck/internal/memcheck/api"

// Version information for the memory checker.
const (
	// Version is the current version of the checker runtime.
	Version = "0.1.0"

	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info describes the running checker.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Level is the operating level: "addr-only", "undef" or "origins".
	// It is empty before Init.
	Level string

	// Enabled indicates whether checking is active.
	Enabled bool
}

// GetInfo returns information about the checker runtime.
//
//	info := memcheck.GetInfo()
//	fmt.Printf("memcheck %s (%s)\n", info.Version, info.Level)
func GetInfo() Info {
	info := Info{Version: Version, Enabled: internal.Enabled()}
	if st := internal.Stats(); st.Level != 0 {
		info.Level = st.Level.String()
	}
	return info
}
