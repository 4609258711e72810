package app

const (
	Name            = "kanatalink"
	ConfigFilename  = "config.json"
	JournalFilename = "journal.db"
	LogFilename     = "kanatalink.log"
	// JournalQueueSize bounds pending journal writes before Enqueue spills to goroutines.
	JournalQueueSize = 512
	// JournalPruneEvery is the number of journal inserts between prunes.
	JournalPruneEvery = 200
)
