package round

// Role is fixed for the lifetime of a node.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleReceiver  Role = "receiver"
)

// Counters are the lifetime statistics of a node. They wrap at 16 bits like
// the counters printed by the firmware.
type Counters struct {
	Received     uint16 `json:"received"`
	Missed       uint16 `json:"missed"`
	Bootstrapped uint16 `json:"bootstrapped"`
}

// Report summarises one completed round. A receiver reports the sequence
// number of the last payload it accepted.
type Report struct {
	NodeID uint16 `json:"nodeId"`
	Role   Role   `json:"role"`
	SeqNo  uint32 `json:"seqNo"`

	Synced    bool `json:"synced"`
	Received  bool `json:"received"`
	Corrupted bool `json:"corrupted"`

	RxCount         uint8   `json:"nRx"`
	TxCount         uint8   `json:"nTx"`
	RelayCntFirstRx uint8   `json:"relayCntFirstRx"`
	RefTime         uint32  `json:"refTime"`
	EpochDiff       *uint32 `json:"epochDiff,omitempty"`

	BootstrapAttempts uint16   `json:"bootstrapAttempts"`
	Counters          Counters `json:"counters"`
	NextWake          uint32   `json:"nextWake"`
}

// Observer is notified after every round, on the goroutine running the
// driver. Implementations must not block.
type Observer interface {
	ObserveRound(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) ObserveRound(r Report) { f(r) }
