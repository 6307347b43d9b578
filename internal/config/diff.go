package config

// ConfigDiff describes what changed between two configs. Only settings that
// the runtime can apply without a restart are tracked; StoreChanged and
// ListenAddrChanged are reported so callers can warn that they need one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TimingChanged is set when any dialogue timing value or max_steps
	// changed. New values apply from the next conversation.
	TimingChanged bool
	NewDialogue   DialogueConfig

	NPCsChanged bool
	NPCChanges  []NPCDiff

	StoreChanged      bool
	ListenAddrChanged bool
}

// NPCDiff describes what changed for a single NPC.
type NPCDiff struct {
	Speaker          string
	AvailableChanged bool
	Available        bool
	SurfaceChanged   bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs. NPC changes are listed in the order
// the NPCs appear in old, followed by additions in new's order.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Dialogue != new.Dialogue {
		d.TimingChanged = true
		d.NewDialogue = new.Dialogue
	}
	d.StoreChanged = old.Store != new.Store
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr

	for _, o := range old.NPCs {
		n, ok := new.NPC(o.Speaker)
		if !ok {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{Speaker: o.Speaker, Removed: true})
			continue
		}
		nd := NPCDiff{
			Speaker:          o.Speaker,
			AvailableChanged: o.Available != n.Available,
			Available:        n.Available,
			SurfaceChanged:   o.Surface != n.Surface,
		}
		if nd.AvailableChanged || nd.SurfaceChanged {
			d.NPCChanges = append(d.NPCChanges, nd)
		}
	}
	for _, n := range new.NPCs {
		if _, ok := old.NPC(n.Speaker); !ok {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{Speaker: n.Speaker, Added: true, Available: n.Available})
		}
	}
	d.NPCsChanged = len(d.NPCChanges) > 0

	return d
}
