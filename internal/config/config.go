package config

import "time"

const (
	// Matchmaking
	SearchCooldown          = 2 * time.Second
	DefaultWaitPerPosition  = 10 * time.Second
	WaitHistorySize         = 50
	MaxInterests            = 10
	MaxInterestLength       = 32
	QueueMirrorBufferSize   = 256
	QueueMirrorWriteTimeout = 2 * time.Second

	// Liveness
	HeartbeatInterval      = 30 * time.Second
	LivenessSweepInterval  = 60 * time.Second
	StaleThreshold         = 90 * time.Second
	DisconnectHistoryLimit = 100
	TopDisconnectReasons   = 5

	// Rooms
	RoomSweepInterval  = 5 * time.Minute
	RoomInactivity     = 30 * time.Minute
	TypingIndicatorTTL = 3 * time.Second

	// Relay
	MaxMessageLength     = 2000
	ContentDedupWindow   = 5 * time.Second
	MessageIDDedupWindow = 10 * time.Second
	DedupSweepInterval   = 30 * time.Second

	// Delivery
	BatchTick        = 16 * time.Millisecond
	BatchSize        = 50
	MaxQueueSize     = 1000
	MaxMessageAge    = 5 * time.Second
	OverloadDropRate = 0.2

	// Profiles
	ProfileCacheTTL     = 30 * time.Second
	ProfileFetchTimeout = 2 * time.Second
	DefaultDisplayName  = "Stranger"
	DefaultColor        = "#9e9e9e"
)

// Timings carries every interval the core runs on. Tests shrink them;
// production uses DefaultTimings.
type Timings struct {
	SearchCooldown       time.Duration
	HeartbeatInterval    time.Duration
	LivenessSweep        time.Duration
	StaleThreshold       time.Duration
	RoomSweep            time.Duration
	RoomInactivity       time.Duration
	TypingTTL            time.Duration
	ContentDedupWindow   time.Duration
	MessageIDDedupWindow time.Duration
	DedupSweep           time.Duration
	BatchTick            time.Duration
	MaxMessageAge        time.Duration
	ProfileCacheTTL      time.Duration
}

// DefaultTimings returns the production intervals.
func DefaultTimings() Timings {
	return Timings{
		SearchCooldown:       SearchCooldown,
		HeartbeatInterval:    HeartbeatInterval,
		LivenessSweep:        LivenessSweepInterval,
		StaleThreshold:       StaleThreshold,
		RoomSweep:            RoomSweepInterval,
		RoomInactivity:       RoomInactivity,
		TypingTTL:            TypingIndicatorTTL,
		ContentDedupWindow:   ContentDedupWindow,
		MessageIDDedupWindow: MessageIDDedupWindow,
		DedupSweep:           DedupSweepInterval,
		BatchTick:            BatchTick,
		MaxMessageAge:        MaxMessageAge,
		ProfileCacheTTL:      ProfileCacheTTL,
	}
}
