package types

// ServerTarget is the validated view of one fleet member. It is built once
// by the fleet validator and never mutated afterwards.
type ServerTarget struct {
	Name               string
	Reachable          bool
	RemoteExecCapable  bool
	FileShareReachable bool
	ShellMajorVersion  int
}

// Ready reports whether every validation check passed for this target.
func (t ServerTarget) Ready() bool {
	return t.Reachable && t.RemoteExecCapable && t.FileShareReachable
}

// QuiescenceRecord captures what the quiescence gate observed and wrote for
// one database. The releaser reads DeployFlagValue back before clearing it.
type QuiescenceRecord struct {
	Database        string
	ImportFlagClear bool
	LockClear       bool
	DeployFlagValue string
}
