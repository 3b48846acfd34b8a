package types

import (
	"time"
)

// ProfileCategory classifies a deployable bundle
type ProfileCategory string

const (
	CategoryNode        ProfileCategory = "node"
	CategoryApplication ProfileCategory = "application"
	CategoryIndexer     ProfileCategory = "indexer"
	CategoryMining      ProfileCategory = "mining"
	CategoryStorage     ProfileCategory = "storage"
)

// Profile is a named bundle of services deployed together. Profiles are
// immutable after catalog load.
type Profile struct {
	ID             string
	DisplayName    string
	Category       ProfileCategory
	Services       []string // ordered service IDs
	ConfigKeys     []string // environment variable names owned by this profile
	Prerequisites  []string // profile IDs, any-of satisfaction
	Conflicts      []string // profile IDs that cannot coexist
	StartupOrder   int      // phase 1-3
	SharedServices []string // services instantiated once even if referenced by peers
}

// ProbeKind is the transport used to health-check a service
type ProbeKind string

const (
	ProbeHTTP    ProbeKind = "http"
	ProbeJSONRPC ProbeKind = "jsonrpc"
	ProbeTCP     ProbeKind = "tcp"
	ProbeNone    ProbeKind = "none"
)

// HealthProbe declares how a service is health-checked
type HealthProbe struct {
	Kind   ProbeKind
	Port   int
	Path   string // HTTP only
	Method string // JSONRPC only, a no-arg query method
}

// ResourceFootprint is the declared resource requirement of a single service
type ResourceFootprint struct {
	MinRAMGb  float64
	RecRAMGb  float64
	MinDiskGb float64
	MinCPU    float64
}

// ServiceDefinition describes a deployable service within a profile
type ServiceDefinition struct {
	ID              string
	ContainerName   string // may differ from ID
	OwningProfileID string
	HealthProbe     HealthProbe
	Critical        bool
	Dependencies    []string // service IDs this service depends on
	Footprint       ResourceFootprint
	DefaultPorts    map[string]int // role -> port
	ImageRef        string         // repository:tag
	StartupPhase    int            // 1-3; 0 means inherit the owning profile's order
}

// ImageRepository returns the repository part of the image reference.
func (s *ServiceDefinition) ImageRepository() string {
	for i := len(s.ImageRef) - 1; i >= 0; i-- {
		if s.ImageRef[i] == ':' {
			return s.ImageRef[:i]
		}
		if s.ImageRef[i] == '/' {
			break
		}
	}
	return s.ImageRef
}

// ImageTag returns the tag part of the image reference, or "latest".
func (s *ServiceDefinition) ImageTag() string {
	for i := len(s.ImageRef) - 1; i >= 0; i-- {
		if s.ImageRef[i] == ':' {
			return s.ImageRef[i+1:]
		}
		if s.ImageRef[i] == '/' {
			break
		}
	}
	return "latest"
}

// ServiceState is the runtime state of a service container
type ServiceState string

const (
	StateRunning ServiceState = "running"
	StateStopped ServiceState = "stopped"
	StateExited  ServiceState = "exited"
)

// HealthState is the probed health of a service
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// ServiceObservation is the monitor's view of a single service. Mutated only
// by the ServiceMonitor; published via the event bus.
type ServiceObservation struct {
	ServiceID     string       `json:"serviceId"`
	ContainerName string       `json:"containerName"`
	State         ServiceState `json:"state"`
	Health        HealthState  `json:"health"`
	StartedAt     time.Time    `json:"startedAt,omitzero"`
	LastCheckedAt time.Time    `json:"lastCheckedAt"`
	LastError     string       `json:"lastError,omitempty"`
	Version       string       `json:"version,omitempty"`
	UptimeSec     int64        `json:"uptimeSec"`
}

// Usage is per-container resource usage reported by the runtime
type Usage struct {
	CPUPct        float64 `json:"cpuPct"`
	MemBytes      uint64  `json:"memBytes"`
	MemLimitBytes uint64  `json:"memLimitBytes,omitempty"`
}

// ResourceSample is one host-level resource measurement
type ResourceSample struct {
	CPUPct          float64          `json:"cpuPct"`
	MemPct          float64          `json:"memPct"`
	DiskPct         float64          `json:"diskPct"`
	LoadAvg         [3]float64       `json:"loadAvg"`
	PerServiceUsage map[string]Usage `json:"perServiceUsage,omitempty"`
	TakenAt         time.Time        `json:"takenAt"`
}

// TaskKind classifies a background task
type TaskKind string

const (
	TaskNodeSync    TaskKind = "node-sync"
	TaskIndexerSync TaskKind = "indexer-sync"
	TaskDbMigration TaskKind = "db-migration"
	TaskGeneric     TaskKind = "generic"
)

// TaskStatus is the lifecycle state of a background task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskComplete  TaskStatus = "complete"
	TaskError     TaskStatus = "error"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskError || s == TaskCancelled
}

// Task is a server-owned, periodically polled background operation
type Task struct {
	ID             string            `json:"taskId"`
	Kind           TaskKind          `json:"kind"`
	ServiceID      string            `json:"serviceId,omitempty"`
	Status         TaskStatus        `json:"status"`
	ProgressPct    float64           `json:"progressPct"`
	StartedAt      time.Time         `json:"startedAt,omitzero"`
	LastUpdate     time.Time         `json:"lastUpdate,omitzero"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	PollIntervalMs int               `json:"pollIntervalMs"`
}

// TaskProgress is the result of one task poll
type TaskProgress struct {
	Completed bool
	Progress  float64
	Error     string
	Metadata  map[string]string
}

// SyncStrategy is the user's chosen policy when a node requires synchronization
type SyncStrategy string

const (
	StrategyWait       SyncStrategy = "wait"
	StrategyBackground SyncStrategy = "background"
	StrategySkip       SyncStrategy = "skip"
)

// SyncSample is one observation of a node's sync position
type SyncSample struct {
	NodeKey      string    `json:"nodeKey"`
	CurrentBlock uint64    `json:"currentBlock"`
	TargetBlock  uint64    `json:"targetBlock"`
	SampledAt    time.Time `json:"sampledAt"`
}

// SyncStatus is the derived sync state presented to clients
type SyncStatus struct {
	NodeKey       string       `json:"nodeKey"`
	IsSynced      bool         `json:"isSynced"`
	BlockCount    uint64       `json:"blockCount"`
	HeaderCount   uint64       `json:"headerCount"`
	ProgressPct   float64      `json:"progressPct"`
	BlocksPerSec  float64      `json:"blocksPerSec"`
	ETASeconds    *int64       `json:"etaSec"` // nil while calculating
	ETAText       string       `json:"etaText"`
	Recommended   SyncStrategy `json:"recommendedStrategy"`
	NetworkName   string       `json:"networkName,omitempty"`
	LastCheckedAt time.Time    `json:"lastCheckedAt"`
}

// SnapshotFile describes one artifact captured in a configuration snapshot
type SnapshotFile struct {
	LogicalName string `json:"logicalName"`
	FileName    string `json:"fileName"`
	SizeBytes   int64  `json:"sizeBytes"`
	Description string `json:"description"`
}

// SnapshotMetadata is the sidecar metadata of a configuration snapshot
type SnapshotMetadata struct {
	SnapshotID string            `json:"snapshotId"`
	Reason     string            `json:"reason"`
	Files      []SnapshotFile    `json:"files"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// DiffKind classifies a single configuration change
type DiffKind string

const (
	DiffAdded    DiffKind = "added"
	DiffRemoved  DiffKind = "removed"
	DiffModified DiffKind = "modified"
)

// ConfigChange is one key-level configuration change
type ConfigChange struct {
	Key      string   `json:"key"`
	Kind     DiffKind `json:"kind"`
	OldValue string   `json:"oldValue,omitempty"`
	NewValue string   `json:"newValue,omitempty"`
}

// ConfigDiff is an ordered set of configuration changes
type ConfigDiff struct {
	Changes []ConfigChange `json:"changes"`
}

// Empty reports whether the diff contains no changes.
func (d ConfigDiff) Empty() bool { return len(d.Changes) == 0 }

// TokenMode is the launch context a handoff token binds
type TokenMode string

const (
	ModeInstall     TokenMode = "install"
	ModeReconfigure TokenMode = "reconfigure"
	ModeUpdate      TokenMode = "update"
)

// AlertSeverity ranks an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertKind classifies an alert
type AlertKind string

const (
	AlertServiceFailure    AlertKind = "service-failure"
	AlertServiceRecovery   AlertKind = "service-recovery"
	AlertResourceThreshold AlertKind = "resource-threshold"
	AlertResourceRecovery  AlertKind = "resource-recovery"
	AlertSyncLost          AlertKind = "sync-lost"
	AlertSyncRecovered     AlertKind = "sync-recovered"
)

// Alert is a deduplicated, threshold-based notification
type Alert struct {
	ID             string        `json:"alertId"`
	Kind           AlertKind     `json:"kind"`
	Severity       AlertSeverity `json:"severity"`
	SubjectKey     string        `json:"subjectKey"` // service ID or resource kind
	Message        string        `json:"message"`
	RaisedAt       time.Time     `json:"raisedAt"`
	AcknowledgedAt time.Time     `json:"acknowledgedAt,omitzero"`
	RecoveredAt    time.Time     `json:"recoveredAt,omitzero"`
}

// Open reports whether the alert is still raised (neither acknowledged nor
// recovered).
func (a *Alert) Open() bool {
	return a.AcknowledgedAt.IsZero() && a.RecoveredAt.IsZero()
}

// InstalledService is one entry of the persisted installation state
type InstalledService struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// InstallationState is the persisted record of what is installed
type InstallationState struct {
	Version        string             `json:"version"`
	InstalledAt    time.Time          `json:"installedAt,omitzero"`
	ActiveProfiles []string           `json:"activeProfiles"`
	Services       []InstalledService `json:"services"`
}

// WizardState is the persisted wizard progress used for resumability
type WizardState struct {
	CurrentStep     string   `json:"currentStep,omitempty"`
	Phase           string   `json:"phase,omitempty"`
	BackgroundTasks []Task   `json:"backgroundTasks,omitempty"`
	SyncOperations  []string `json:"syncOperations,omitempty"`
}

// RuntimeContainer is a container as reported by the runtime
type RuntimeContainer struct {
	ServiceID     string
	ContainerName string
	State         ServiceState
	StartedAt     time.Time
	Image         string
	RuntimeHealth HealthState // health as reported by the engine, if any
}

// RuntimeInfo describes the container engine
type RuntimeInfo struct {
	EngineVersion  string  `json:"engineVersion"`
	ComposeVersion string  `json:"composeVersion,omitempty"`
	Running        bool    `json:"running"`
	ContainerCount int     `json:"containerCount"`
	ImageCount     int     `json:"imageCount"`
	MemoryLimitGb  float64 `json:"memoryLimitGb,omitempty"`
}
