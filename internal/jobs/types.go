package jobs

const TaskCacheWarm = "cache:warm"

type CacheWarmPayload struct {
	// Trigger records what started the run: "scheduled" or "manual".
	Trigger string `json:"trigger,omitempty"`
}
