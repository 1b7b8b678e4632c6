package flags

// RootCmdFlags are the persistent flags every kubedeck command sees.
type RootCmdFlags struct {
	Debug bool

	// APIAddr is where the daemon's command API listens. Client verbs
	// dial it; the daemon binds it.
	APIAddr string
}
